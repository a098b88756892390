package jobs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/pkg/logger"
)

// RedisConnOpt builds the asynq connection options for cfg.
func RedisConnOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}

// Client enqueues analysis tasks using Asynq.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *logger.Logger
}

var _ app.AnalysisEnqueuer = (*Client)(nil)

// NewClient creates a new job client for enqueueing tasks.
func NewClient(opt asynq.RedisConnOpt, log *logger.Logger) *Client {
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		logger:    log.With("component", "job_client"),
	}
}

// Close closes the client connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// EnqueueAnalysis schedules a persisted job on its priority queue.
// Enqueueing the same job twice is a no-op.
func (c *Client) EnqueueAnalysis(ctx context.Context, d app.AnalysisDispatch) error {
	task, err := NewAnalysisTask(d)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Info("analysis already queued", "job_id", d.JobID.String())
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue analysis",
			"job_id", d.JobID.String(),
			"kind", d.Kind,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("analysis queued",
		"task_id", info.ID,
		"job_id", d.JobID.String(),
		"agency_id", d.AgencyID.String(),
		"queue", info.Queue,
		"delay", d.Delay,
	)
	return nil
}

// QueueStats is a snapshot of one analysis queue.
type QueueStats struct {
	Queue     string `json:"queue" yaml:"queue"`
	Pending   int    `json:"pending" yaml:"pending"`
	Active    int    `json:"active" yaml:"active"`
	Scheduled int    `json:"scheduled" yaml:"scheduled"`
	Retry     int    `json:"retry" yaml:"retry"`
	Archived  int    `json:"archived" yaml:"archived"`
	Paused    bool   `json:"paused" yaml:"paused"`
}

// QueueStats reports the analysis queues, highest priority first. Queues
// that have never held a task are reported empty.
func (c *Client) QueueStats(ctx context.Context) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(analysisQueues()))
	for _, q := range analysisQueues() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(q)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: q})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect queue %s: %w", q, err)
		}
		out = append(out, QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Paused:    info.Paused,
		})
	}
	return out, nil
}
