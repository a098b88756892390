package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/http"
	"github.com/agencyhub/api/internal/infra/http/routes"
	"github.com/agencyhub/api/internal/infra/postgres"
	"github.com/agencyhub/api/internal/infra/redis"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/migrations"
)

// @title           agencyhub API
// @version         1.0
// @description     Property agency portfolio API with asynchronous analyses
// @BasePath        /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// Command line flags.
var (
	migrate     = flag.Bool("migrate", false, "Apply pending migrations before serving")
	apiOnly     = flag.Bool("api-only", false, "Serve HTTP without the queue worker and background loops")
	workerOnly  = flag.Bool("worker-only", false, "Run the queue worker and background loops without HTTP")
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json, yaml")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(ctx, &cfg.Database, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if *migrate {
		n, err := migrations.NewRunner(db.DB, migrations.Files(), log).Up(ctx)
		if err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
		log.Info("migrations applied", "count", n)
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos, filter := NewRepositories(db, log)

	services, err := NewServices(ctx, &ServiceDeps{
		Config:      cfg,
		Log:         log,
		Repos:       repos,
		Filter:      filter,
		RedisClient: redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	defer closeWithLog(services.JobClient, "job client", log)
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, log)
	handlers := NewHandlers(cfg, log, db, redisClient, services)

	deps := routes.Deps{
		Tokens:      services.Tokens,
		DemoEnabled: cfg.Demo.Enabled,
		Logger:      log,
	}
	if cfg.RateLimit.Enabled {
		quota, err := redis.NewRateLimiter(redisClient, "quota:analysis", cfg.RateLimit.SubmissionLimit, cfg.RateLimit.SubmissionWindow, log)
		if err != nil {
			log.Error("failed to initialize submission quota", "error", err)
			return 1
		}
		deps.SubmissionQuota = quota
	}
	routes.Register(server.Router(), handlers, deps)

	if *showRoutes {
		if err := http.PrintRoutes(os.Stdout, http.CollectRoutes(server.Router()), *routeFormat); err != nil {
			log.Error("failed to print routes", "error", err)
			return 1
		}
		return 0
	}

	// ==========================================================================
	// Run
	// ==========================================================================
	g, gctx := errgroup.WithContext(ctx)

	go services.Hub.Run(gctx)
	g.Go(func() error {
		err := services.StatusNotifier.Listen(gctx, services.Hub.Relay)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if !*apiOnly {
		workers, err := NewWorkers(cfg, log, services)
		if err != nil {
			log.Error("failed to initialize workers", "error", err)
			return 1
		}
		workers.Run(gctx, g)
	}

	if !*workerOnly {
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		log.Info("application started", "http_addr", cfg.Server.Addr())
	}

	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", "error", err)
		return 1
	}
	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		//nolint:gosec // G115: validated non-negative in config.Validate()
		threshold := uint64(cfg.Log.SamplingThreshold)
		log = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Sampling: logger.SamplingConfig{
				Enabled:   cfg.Log.SamplingEnabled,
				Tick:      time.Second,
				Threshold: threshold,
				Rate:      cfg.Log.SamplingRate,
				ErrorRate: cfg.Log.ErrorSamplingRate,
			},
		})
	} else {
		log = logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
