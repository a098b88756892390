package main

import (
	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/http/handler"
	"github.com/agencyhub/api/internal/infra/http/routes"
	"github.com/agencyhub/api/internal/infra/postgres"
	"github.com/agencyhub/api/internal/infra/redis"
	"github.com/agencyhub/api/internal/infra/websocket"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/validator"
)

// NewHandlers builds the HTTP handlers.
func NewHandlers(cfg *config.Config, log *logger.Logger, db *postgres.DB, redisClient *redis.Client, s *Services) routes.Handlers {
	v := validator.New()

	var results handler.ResultLoader
	if s.Archive != nil {
		results = s.Archive
	}

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDependency("postgres", db),
			handler.WithDependency("redis", redisClient),
		),
		Analysis:  handler.NewAnalysisHandler(s.Analysis, results, v, log),
		Property:  handler.NewPropertyHandler(s.Property, v, log),
		Invoice:   handler.NewInvoiceHandler(s.Invoice, v, log),
		Audit:     handler.NewAuditHandler(s.Audit, log),
		Dashboard: handler.NewDashboardHandler(s.Dashboard, log),
		Admin:     handler.NewAdminHandler(s.Agency, s.JobClient, s.Analysis, v, log),
		WebSocket: websocket.NewHandler(s.Hub, cfg.CORS.AllowedOrigins, log),
	}
}
