package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/internal/infra/controller"
	"github.com/agencyhub/api/internal/infra/jobs"
	"github.com/agencyhub/api/pkg/logger"
)

// Workers holds the background loops.
type Workers struct {
	JobWorker         *jobs.Worker
	Scheduler         *jobs.Scheduler // nil when scheduling is disabled
	ControllerManager *controller.Manager
}

// NewWorkers initializes the queue worker, the scheduler and the controllers.
func NewWorkers(cfg *config.Config, log *logger.Logger, s *Services) (*Workers, error) {
	w := &Workers{
		JobWorker: jobs.NewWorker(
			jobs.RedisConnOpt(&cfg.Redis),
			jobs.WorkerConfigFrom(cfg.Analysis),
			log,
			jobs.WithAnalysisExecutor(s.Analysis),
		),
	}

	if cfg.Schedule.Enabled {
		sched, err := jobs.NewScheduler(cfg.Schedule.Specs, s.Agency, s.Analysis, log)
		if err != nil {
			return nil, err
		}
		w.Scheduler = sched
	}

	w.ControllerManager = controller.NewManager(controller.PrometheusMetrics{}, log)
	if cfg.Analysis.RecoveryEnabled {
		w.ControllerManager.Register(controller.NewAnalysisRecoveryController(s.Analysis, controller.AnalysisRecoveryConfig{
			Interval:   cfg.Analysis.RecoveryInterval,
			StuckAfter: cfg.Analysis.Timeout + cfg.Analysis.RecoveryGrace,
			BatchSize:  cfg.Analysis.RecoveryBatchSize,
		}, log))
	}
	w.ControllerManager.Register(controller.NewAuditRetentionController(s.Audit, controller.AuditRetentionConfig{
		Interval:      cfg.Audit.RetentionInterval,
		RetentionDays: cfg.Audit.RetentionDays,
	}, log))

	return w, nil
}

// Run starts every loop on g. They stop when ctx is cancelled.
func (w *Workers) Run(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return w.JobWorker.Run(ctx) })
	if w.Scheduler != nil {
		g.Go(func() error { return w.Scheduler.Run(ctx) })
	}
	g.Go(func() error { return w.ControllerManager.Run(ctx) })
}
