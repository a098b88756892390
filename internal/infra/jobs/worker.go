package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agencyhub/api/internal/config"
	"github.com/agencyhub/api/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	Concurrency     int
	Queues          map[string]int
	StrictPriority  bool
	Backoff         time.Duration
	ShutdownTimeout time.Duration
}

// WorkerConfigFrom derives the worker settings from the analysis config.
func WorkerConfigFrom(cfg config.AnalysisConfig) WorkerConfig {
	return WorkerConfig{
		Concurrency:     cfg.Concurrency,
		Queues:          cfg.QueueWeights,
		StrictPriority:  cfg.StrictPriority,
		Backoff:         cfg.Backoff,
		ShutdownTimeout: 30 * time.Second,
	}
}

// queueWeights keeps only the analysis queues, defaulting missing weights.
func (c WorkerConfig) queueWeights() map[string]int {
	defaults := map[string]int{"high": 6, "normal": 3, "low": 1}
	out := make(map[string]int, len(defaults))
	for _, q := range analysisQueues() {
		if w := c.Queues[q]; w > 0 {
			out[q] = w
			continue
		}
		out[q] = defaults[q]
	}
	return out
}

// WorkerOption is a functional option for configuring the Worker.
type WorkerOption func(*Worker)

// WithAnalysisExecutor registers the analysis task handler.
func WithAnalysisExecutor(executor AnalysisExecutor) WorkerOption {
	return func(w *Worker) {
		w.analysisExecutor = executor
	}
}

// Worker processes analysis tasks.
type Worker struct {
	server           *asynq.Server
	mux              *asynq.ServeMux
	logger           *logger.Logger
	analysisExecutor AnalysisExecutor
}

// NewWorker creates a new background job worker.
func NewWorker(opt asynq.RedisConnOpt, cfg WorkerConfig, log *logger.Logger, opts ...WorkerOption) *Worker {
	log = log.With("component", "job_worker")
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Minute
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          cfg.queueWeights(),
		StrictPriority:  cfg.StrictPriority,
		RetryDelayFunc:  FixedRetryDelay(backoff),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{log: log},
		ErrorHandler:    asynq.ErrorHandlerFunc(errorReporter(log)),
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log,
	}
	for _, o := range opts {
		o(w)
	}

	if w.analysisExecutor != nil {
		NewAnalysisTaskHandler(w.analysisExecutor, log).RegisterHandlers(w.mux)
		log.Info("analysis task handlers registered",
			"queues", cfg.queueWeights(),
			"strict_priority", cfg.StrictPriority,
			"backoff", backoff,
		)
	}
	return w
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// errorReporter logs tasks that failed their last allowed attempt.
func errorReporter(log *logger.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry && !isSkipRetry(err) {
			return
		}
		taskID, _ := asynq.GetTaskID(ctx)
		log.Error("task exhausted its retries",
			"type", t.Type(),
			"task_id", taskID,
			"retried", retried,
			"error", err,
		)
	}
}

// asynqLogger routes asynq's internal logging through the service logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), "fatal", true) }
