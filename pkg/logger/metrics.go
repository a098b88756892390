package logger

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agencyhub",
			Subsystem: "logger",
			Name:      "logs_dropped_total",
			Help:      "Total number of logs dropped by sampling",
		},
		[]string{"level"},
	)

	logsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agencyhub",
			Subsystem: "logger",
			Name:      "logs_processed_total",
			Help:      "Total number of logs seen by the sampler",
		},
		[]string{"level"},
	)

	samplingCounterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agencyhub",
			Subsystem: "logger",
			Name:      "sampling_counter_size",
			Help:      "Number of distinct message keys tracked by the sampler",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers logger metrics with the given registry.
// A nil registry means the default registerer. Safe to call more than once.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{logsDroppedTotal, logsProcessedTotal, samplingCounterSize} {
			_ = registry.Register(c)
		}
	})
}

// MetricsOnProcessed counts a record before the sampling decision.
func MetricsOnProcessed(level slog.Level) {
	logsProcessedTotal.WithLabelValues(levelToString(level)).Inc()
}

// SetSamplingCounterSize reports the number of tracked message keys.
func SetSamplingCounterSize(size int) {
	samplingCounterSize.Set(float64(size))
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// DroppedTotal returns the dropped counter for a level. Used by tests.
func DroppedTotal(level string) float64 {
	m, err := logsDroppedTotal.GetMetricWithLabelValues(level)
	if err != nil {
		return 0
	}

	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		return 0
	}
	if metric.Counter != nil {
		return metric.Counter.GetValue()
	}
	return 0
}
