package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/agencyhub/api/pkg/logger"
)

// Runner applies migrations and records them in schema_migrations.
type Runner struct {
	db     *sql.DB
	files  fs.FS
	logger *logger.Logger
}

// NewRunner creates a Runner. A nil files uses the embedded schema.
func NewRunner(db *sql.DB, files fs.FS, log *logger.Logger) *Runner {
	if files == nil {
		files = Files()
	}
	return &Runner{db: db, files: files, logger: log.With("component", "migrations")}
}

// Record is an applied migration.
type Record struct {
	Version   string
	AppliedAt time.Time
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Applied returns applied migrations in version order.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Pending returns up migrations not yet applied.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	available, err := Load(r.files, "up")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	return pending(available, applied), nil
}

func pending(available []Migration, applied []Record) []Migration {
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}
	var out []Migration
	for _, m := range available {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// Up applies all pending migrations, each in its own transaction.
func (r *Runner) Up(ctx context.Context) (int, error) {
	todo, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for i, m := range todo {
		if err := r.apply(ctx, m, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		}); err != nil {
			return i, fmt.Errorf("migration %s failed: %w", m, err)
		}
		r.logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return len(todo), nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	last := applied[len(applied)-1]

	downs, err := Load(r.files, "down")
	if err != nil {
		return err
	}
	for _, m := range downs {
		if m.Version != last.Version {
			continue
		}
		if err := r.apply(ctx, m, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		}); err != nil {
			return fmt.Errorf("rollback %s failed: %w", m, err)
		}
		r.logger.Info("migration rolled back", "version", m.Version)
		return nil
	}
	return fmt.Errorf("no down migration for version %s", last.Version)
}

func (r *Runner) apply(ctx context.Context, m Migration, record func(*sql.Tx) error) error {
	content, err := fs.ReadFile(r.files, m.Path)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}
