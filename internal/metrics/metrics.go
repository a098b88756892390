// Package metrics holds the Prometheus collectors of the API process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agencyhub"

// Analysis job metrics
var (
	// AnalysisSubmitted counts accepted submissions by kind and queue.
	AnalysisSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "submitted_total",
			Help:      "Analysis jobs accepted by kind and queue",
		},
		[]string{"kind", "queue"},
	)

	// AnalysisEnqueueFailures counts jobs persisted but not enqueued.
	AnalysisEnqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "enqueue_failures_total",
			Help:      "Analysis jobs that could not be enqueued",
		},
		[]string{"kind"},
	)

	// AnalysisAttempts counts worker attempts by kind and outcome.
	AnalysisAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "attempts_total",
			Help:      "Analysis attempts by kind and outcome (completed, failed, final_failed)",
		},
		[]string{"kind", "outcome"},
	)

	// AnalysisAttemptDuration tracks analyzer run time.
	AnalysisAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "attempt_duration_seconds",
			Help:      "Analysis attempt duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// AnalysisConfidence tracks the confidence of completed jobs.
	AnalysisConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "confidence",
			Help:      "Confidence score of completed analyses",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"kind"},
	)

	// AnalysisRecovered counts stuck jobs failed by the recovery controller.
	AnalysisRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "recovered_total",
			Help:      "Stuck analysis jobs marked failed by recovery",
		},
	)

	// AnalysisArchiveFailures counts result documents that failed to archive.
	AnalysisArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "archive_failures_total",
			Help:      "Completed analyses whose result could not be archived",
		},
	)

	// ScheduledSubmissions counts cron-driven submissions by kind and result.
	ScheduledSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "submissions_total",
			Help:      "Scheduled analysis submissions by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// Tenancy metrics
var (
	// CrossTenantBlocked counts blocked writes to another agency's records.
	CrossTenantBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenancy",
			Name:      "cross_tenant_blocked_total",
			Help:      "Cross-tenant writes blocked by resource and operation",
		},
		[]string{"resource", "op"},
	)
)

// HTTP metrics
var (
	// HTTPRequests counts requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RateLimited counts requests rejected by a limiter ("client" or "submission").
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting",
		},
		[]string{"limiter"},
	)

	// WebSocketClients is the number of connected websocket clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket clients",
		},
	)
)

// Controller metrics
var (
	ControllerReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "reconcile_total",
			Help:      "Reconciliations by controller and result",
		},
		[]string{"controller", "result"},
	)

	ControllerReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"controller"},
	)

	ControllerItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "items_processed_total",
			Help:      "Items processed by controller",
		},
		[]string{"controller"},
	)

	ControllerLastReconcile = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix timestamp of the last reconciliation",
		},
		[]string{"controller"},
	)
)

// Redis metrics
var (
	// CacheRequests counts cache lookups by prefix and result (hit, miss, error).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by prefix and result",
		},
		[]string{"prefix", "result"},
	)

	// RedisOperationDuration tracks redis round trips by operation.
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Redis operation duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// StatusEventsRelayed counts analysis status events received over pub/sub.
	StatusEventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "status_events_total",
			Help:      "Analysis status events by direction (published, received, dropped)",
		},
		[]string{"direction"},
	)
)
