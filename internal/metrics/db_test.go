package metrics

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats sql.DBStats

func (f fixedStats) Stats() sql.DBStats { return sql.DBStats(f) }

func TestDBCollector(t *testing.T) {
	c := NewDBCollector(fixedStats{OpenConnections: 7, InUse: 3, Idle: 4})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP agencyhub_db_open_connections Open database connections
# TYPE agencyhub_db_open_connections gauge
agencyhub_db_open_connections 7
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "agencyhub_db_open_connections")
	assert.NoError(t, err)
	assert.Equal(t, 5, testutil.CollectAndCount(c))
}
