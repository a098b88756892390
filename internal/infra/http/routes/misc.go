package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agencyhub/api/internal/infra/http/handler"
)

// registerHealthRoutes registers probes and the metrics scrape.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", promhttp.Handler().ServeHTTP)
}

// registerDashboardRoutes registers the caller's dashboard and, in demo
// mode, the public demo dashboard.
func registerDashboardRoutes(router Router, h *handler.DashboardHandler, demo bool, tenant []Middleware) {
	router.GET("/api/v1/dashboard", h.Get, tenant...)
	if demo {
		router.GET("/api/v1/demo/dashboard", h.Demo)
	}
}

// registerAuditRoutes registers the audit log. Agencies see their own
// entries; platform administrators see all of them.
func registerAuditRoutes(router Router, h *handler.AuditHandler, tenant []Middleware) {
	router.GET("/api/v1/audit-logs", h.List, tenant...)
}

// registerAdminRoutes registers platform administration endpoints and the
// caller's own agency.
func registerAdminRoutes(router Router, h *handler.AdminHandler, tenant, admin []Middleware) {
	router.GET("/api/v1/agency", h.CurrentAgency, tenant...)

	router.Group("/api/v1/admin", func(r Router) {
		r.POST("/agencies", h.CreateAgency)
		r.GET("/queues", h.Queues)
		r.POST("/analyses/recover", h.RecoverStuckJobs)
	}, admin...)
}
