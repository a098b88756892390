package controller

import (
	"time"

	"github.com/agencyhub/api/internal/metrics"
)

// PrometheusMetrics records reconciliations on the process collectors.
type PrometheusMetrics struct{}

// RecordReconcile implements Metrics.
func (PrometheusMetrics) RecordReconcile(controller string, items int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	metrics.ControllerReconciles.WithLabelValues(controller, result).Inc()
	metrics.ControllerReconcileDuration.WithLabelValues(controller).Observe(duration.Seconds())
	metrics.ControllerLastReconcile.WithLabelValues(controller).SetToCurrentTime()
	if items > 0 {
		metrics.ControllerItemsProcessed.WithLabelValues(controller).Add(float64(items))
	}
}

var _ Metrics = PrometheusMetrics{}
