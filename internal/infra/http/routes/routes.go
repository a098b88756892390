// Package routes registers the HTTP routes of the API, grouped by domain.
package routes

import (
	infrahttp "github.com/agencyhub/api/internal/infra/http"
	"github.com/agencyhub/api/internal/infra/http/handler"
	"github.com/agencyhub/api/internal/infra/http/middleware"
	"github.com/agencyhub/api/internal/infra/websocket"
	"github.com/agencyhub/api/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds the HTTP handlers for route registration.
type Handlers struct {
	Health    *handler.HealthHandler
	Analysis  *handler.AnalysisHandler
	Property  *handler.PropertyHandler
	Invoice   *handler.InvoiceHandler
	Audit     *handler.AuditHandler
	Dashboard *handler.DashboardHandler
	Admin     *handler.AdminHandler
	WebSocket *websocket.Handler // nil disables /ws
}

// Deps carries what the route groups need besides handlers.
type Deps struct {
	Tokens middleware.TokenValidator
	// SubmissionQuota caps analysis submissions per agency. nil disables it.
	SubmissionQuota middleware.QuotaLimiter
	// DemoEnabled exposes the public demo dashboard.
	DemoEnabled bool
	Logger      *logger.Logger
}

// Register registers all application routes.
func Register(router Router, h Handlers, d Deps) {
	registerHealthRoutes(router, h.Health)

	auth := middleware.Authenticate(d.Tokens, d.Logger)
	tenant := []Middleware{auth, middleware.RequireAgency()}

	registerAnalysisRoutes(router, h.Analysis, d, tenant)
	registerPropertyRoutes(router, h.Property, tenant)
	registerInvoiceRoutes(router, h.Invoice, tenant)
	registerDashboardRoutes(router, h.Dashboard, d.DemoEnabled, tenant)
	registerAuditRoutes(router, h.Audit, tenant)
	registerAdminRoutes(router, h.Admin, tenant, []Middleware{auth, middleware.RequireUnrestricted()})

	if h.WebSocket != nil {
		router.GET("/ws", h.WebSocket.ServeWS, tenant...)
	}
}
