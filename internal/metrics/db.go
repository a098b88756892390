package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports connection pool statistics.
type StatsSource interface {
	Stats() sql.DBStats
}

// DBCollector exports database pool statistics at scrape time.
type DBCollector struct {
	src      StatsSource
	open     *prometheus.Desc
	inUse    *prometheus.Desc
	idle     *prometheus.Desc
	waits    *prometheus.Desc
	waitTime *prometheus.Desc
}

// NewDBCollector creates a collector over src.
func NewDBCollector(src StatsSource) *DBCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, nil, nil)
	}
	return &DBCollector{
		src:      src,
		open:     desc("open_connections", "Open database connections"),
		inUse:    desc("in_use_connections", "Database connections in use"),
		idle:     desc("idle_connections", "Idle database connections"),
		waits:    desc("wait_count_total", "Connections waited for"),
		waitTime: desc("wait_duration_seconds_total", "Time spent waiting for connections"),
	}
}

// Describe implements prometheus.Collector.
func (c *DBCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waits
	ch <- c.waitTime
}

// Collect implements prometheus.Collector.
func (c *DBCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.OpenConnections))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitTime, prometheus.CounterValue, s.WaitDuration.Seconds())
}
