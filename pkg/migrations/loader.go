// Package migrations applies the embedded agencyhub schema.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the embedded migration files rooted at their directory.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one versioned SQL file.
type Migration struct {
	Version   string
	Name      string
	Direction string // "up" or "down"
	Path      string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// Load lists the migrations of one direction in fsys, ordered by version.
// Files must be named <version>_<name>.<direction>.sql.
func Load(fsys fs.FS, direction string) ([]Migration, error) {
	suffix := "." + direction + ".sql"

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var out []Migration
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		version, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), suffix), "_")
		if !ok || version == "" || name == "" {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %s: %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()
		out = append(out, Migration{Version: version, Name: name, Direction: direction, Path: e.Name()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
