package controller

import (
	"context"
	"time"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/logger"
)

// StuckJobRecoverer fails analysis jobs whose worker disappeared.
type StuckJobRecoverer interface {
	RecoverStuckJobs(ctx context.Context, input app.RecoverStuckJobsInput) (*app.RecoverStuckJobsOutput, error)
}

// AnalysisRecoveryConfig configures AnalysisRecoveryController.
type AnalysisRecoveryConfig struct {
	// Interval between runs. Default 5m.
	Interval time.Duration

	// StuckAfter is how long a job may stay in processing. It should exceed
	// the task timeout. Default 10m.
	StuckAfter time.Duration

	// BatchSize caps jobs handled per run. Default 100.
	BatchSize int
}

// AnalysisRecoveryController marks analysis jobs stuck in processing as failed.
type AnalysisRecoveryController struct {
	recoverer StuckJobRecoverer
	cfg       AnalysisRecoveryConfig
	logger    *logger.Logger
}

// NewAnalysisRecoveryController creates the controller.
func NewAnalysisRecoveryController(recoverer StuckJobRecoverer, cfg AnalysisRecoveryConfig, log *logger.Logger) *AnalysisRecoveryController {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &AnalysisRecoveryController{
		recoverer: recoverer,
		cfg:       cfg,
		logger:    log.With("controller", "analysis-recovery"),
	}
}

func (c *AnalysisRecoveryController) Name() string            { return "analysis-recovery" }
func (c *AnalysisRecoveryController) Interval() time.Duration { return c.cfg.Interval }

// Reconcile implements Controller.
func (c *AnalysisRecoveryController) Reconcile(ctx context.Context) (int, error) {
	out, err := c.recoverer.RecoverStuckJobs(ctx, app.RecoverStuckJobsInput{
		StuckAfter: c.cfg.StuckAfter,
		Limit:      c.cfg.BatchSize,
	})
	if err != nil {
		return 0, err
	}
	if out.Errors > 0 {
		c.logger.Warn("some stuck analysis jobs could not be recovered",
			"total", out.Total,
			"recovered", out.Recovered,
			"errors", out.Errors,
		)
	}
	return out.Recovered, nil
}
