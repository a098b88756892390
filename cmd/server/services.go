package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhub/api/internal/analyzer"
	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/jobs"
	"github.com/agencyhub/api/internal/infra/llm"
	"github.com/agencyhub/api/internal/infra/redis"
	"github.com/agencyhub/api/internal/infra/storage"
	"github.com/agencyhub/api/internal/infra/websocket"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/jwt"
	"github.com/agencyhub/api/pkg/logger"
)

// demoCacheTTL is how long the public demo dashboard is served from Redis.
const demoCacheTTL = time.Minute

// Services holds all application services and the infrastructure they share.
type Services struct {
	Tokens    *jwt.Generator
	Audit     *app.AuditService
	Agency    *app.AgencyService
	Analysis  *app.AnalysisService
	Property  *app.PropertyService
	Invoice   *app.InvoiceService
	Dashboard *app.DashboardService

	JobClient      *jobs.Client
	Hub            *websocket.Hub
	StatusNotifier *redis.StatusNotifier
	Archive        *storage.Archive // nil when archiving is disabled
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Repos       *Repositories
	Filter      *tenancy.Filter
	RedisClient *redis.Client
}

// NewServices initializes all application services.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg, log, repos := deps.Config, deps.Log, deps.Repos

	s := &Services{
		Tokens: jwt.NewGenerator(jwt.TokenConfig{
			Secret:              cfg.Auth.JWTSecret,
			Issuer:              cfg.Auth.JWTIssuer,
			AccessTokenDuration: cfg.Auth.AccessTokenDuration,
		}),
		Audit:          app.NewAuditService(repos.Audit, log),
		Agency:         app.NewAgencyService(repos.Agency, log),
		Property:       app.NewPropertyService(repos.Buildings, repos.Units, log),
		Invoice:        app.NewInvoiceService(repos.Invoices, repos.Units, log),
		Dashboard:      app.NewDashboardService(repos.Buildings, repos.Units, repos.Invoices, repos.Analysis, log),
		Hub:            websocket.NewHub(log),
		StatusNotifier: redis.NewStatusNotifier(deps.RedisClient, log),
		JobClient:      jobs.NewClient(jobs.RedisConnOpt(&cfg.Redis), log),
	}
	deps.Filter.SetAuditSink(s.Audit)
	s.Property.SetAuditService(s.Audit)

	engine, err := newAnalyzerEngine(cfg, repos, log)
	if err != nil {
		return nil, err
	}

	s.Analysis = app.NewAnalysisService(repos.Analysis, engine, app.AnalysisServiceConfig{
		EnqueueDelay: cfg.Analysis.EnqueueDelay,
		Policy: analysis.RetryPolicy{
			MaxAttempts: cfg.Analysis.MaxAttempts,
			Backoff:     cfg.Analysis.Backoff,
			Timeout:     cfg.Analysis.Timeout,
		},
	}, log)
	s.Analysis.SetEnqueuer(s.JobClient)
	s.Analysis.SetAuditService(s.Audit)
	s.Analysis.AddStatusPublisher(s.StatusNotifier)

	archive, err := storage.New(ctx, cfg.Archive, log)
	if err != nil {
		return nil, fmt.Errorf("init result archive: %w", err)
	}
	if archive != nil {
		s.Archive = archive
		s.Analysis.SetArchiver(archive)
		log.Info("result archive enabled", "backend", cfg.Archive.Backend, "bucket", cfg.Archive.Bucket)
	}

	if cfg.Demo.Enabled {
		if err := enableDemo(s.Dashboard, cfg.Demo, deps.RedisClient); err != nil {
			return nil, err
		}
		log.Info("demo dashboard enabled", "agency_id", cfg.Demo.AgencyID)
	}

	return s, nil
}

func newAnalyzerEngine(cfg *config.Config, repos *Repositories, log *logger.Logger) (*analyzer.Engine, error) {
	source := analyzer.NewRepositorySource(repos.Agency, repos.Buildings, repos.Units, repos.Invoices)
	engine := analyzer.NewEngine(analyzer.DefaultRegistry(), source, log)

	provider, err := llm.NewProvider(cfg.LLM)
	switch {
	case errors.Is(err, llm.ErrProviderNotConfigured):
		log.Info("analysis narratives disabled")
	case err != nil:
		return nil, fmt.Errorf("init llm provider: %w", err)
	default:
		engine.SetNarrator(analyzer.NewNarrator(provider, cfg.LLM.MaxTokens, cfg.LLM.Temperature))
		log.Info("analysis narratives enabled", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}
	return engine, nil
}

func enableDemo(dashboard *app.DashboardService, cfg config.DemoConfig, client *redis.Client) error {
	agencyID, err := shared.IDFromString(cfg.AgencyID)
	if err != nil {
		return fmt.Errorf("DEMO_AGENCY_ID: %w", err)
	}
	dashboard.EnableDemo(agencyID)

	cache, err := redis.NewCache[app.DashboardStats](client, "dashboard:demo", demoCacheTTL)
	if err != nil {
		return fmt.Errorf("init demo cache: %w", err)
	}
	dashboard.SetDemoCache(cache)
	return nil
}
