package controller

import (
	"context"
	"time"

	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/logger"
)

// AuditPurger deletes old audit entries.
type AuditPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

var _ AuditPurger = (audit.Repository)(nil)

// AuditRetentionConfig configures AuditRetentionController.
type AuditRetentionConfig struct {
	// Interval between runs. Default 24h.
	Interval time.Duration

	// RetentionDays is how long entries are kept. Default 365.
	RetentionDays int

	// BatchSize caps rows deleted per statement. Default 5000.
	BatchSize int

	// MaxBatches caps statements per run. Default 20.
	MaxBatches int
}

// AuditRetentionController deletes audit entries older than the retention period.
type AuditRetentionController struct {
	purger AuditPurger
	cfg    AuditRetentionConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewAuditRetentionController creates the controller.
func NewAuditRetentionController(purger AuditPurger, cfg AuditRetentionConfig, log *logger.Logger) *AuditRetentionController {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 365
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 20
	}
	return &AuditRetentionController{
		purger: purger,
		cfg:    cfg,
		logger: log.With("controller", "audit-retention"),
		now:    time.Now,
	}
}

func (c *AuditRetentionController) Name() string            { return "audit-retention" }
func (c *AuditRetentionController) Interval() time.Duration { return c.cfg.Interval }

// Reconcile implements Controller. Deletion runs in batches until a batch
// comes back short or MaxBatches is reached.
func (c *AuditRetentionController) Reconcile(ctx context.Context) (int, error) {
	cutoff := c.now().UTC().AddDate(0, 0, -c.cfg.RetentionDays)

	var total int64
	for i := 0; i < c.cfg.MaxBatches; i++ {
		n, err := c.purger.PurgeBefore(ctx, cutoff, c.cfg.BatchSize)
		total += n
		if err != nil {
			return int(total), err
		}
		if n < int64(c.cfg.BatchSize) {
			break
		}
	}

	if total > 0 {
		c.logger.Info(logger.AuditPrefix+" audit entries purged",
			"count", total,
			"cutoff", cutoff.Format(time.RFC3339),
			"retention_days", c.cfg.RetentionDays,
		)
	}
	return int(total), nil
}
