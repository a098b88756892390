package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

// TypeAnalysisRun is the task type for running one analysis job.
const TypeAnalysisRun = "analysis:run"

// AnalysisPayload identifies the job a task runs. AgencyID is carried for
// log correlation only; the worker always uses the owner stored on the job.
type AnalysisPayload struct {
	JobID    string `json:"job_id"`
	AgencyID string `json:"agency_id"`
	Kind     string `json:"kind"`
}

// NewAnalysisTask creates the task for a dispatched job.
func NewAnalysisTask(d app.AnalysisDispatch) (*asynq.Task, error) {
	data, err := json.Marshal(AnalysisPayload{
		JobID:    d.JobID.String(),
		AgencyID: d.AgencyID.String(),
		Kind:     d.Kind.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis payload: %w", err)
	}
	return asynq.NewTask(TypeAnalysisRun, data, analysisTaskOptions(d)...), nil
}

func analysisTaskOptions(d app.AnalysisDispatch) []asynq.Option {
	queue := d.Queue
	if queue == "" {
		queue = d.Kind.Priority().Queue()
	}
	opts := []asynq.Option{
		asynq.TaskID(d.JobID.String()),
		asynq.Queue(queue),
		asynq.MaxRetry(d.Policy.MaxRetries()),
		asynq.Timeout(d.Policy.Timeout),
	}
	if d.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(d.Delay))
	}
	return opts
}

// AnalysisExecutor runs one attempt of a job and closes jobs the queue gives
// up on. Implemented by app.AnalysisService.
type AnalysisExecutor interface {
	Execute(ctx context.Context, jobID shared.ID) error
	FailExhausted(ctx context.Context, jobID shared.ID, cause error) error
}

// AnalysisTaskHandler handles analysis tasks.
type AnalysisTaskHandler struct {
	executor   AnalysisExecutor
	logger     *logger.Logger
	deliveries func(context.Context) (retried, maxRetry int, known bool)
}

// NewAnalysisTaskHandler creates a new analysis task handler.
func NewAnalysisTaskHandler(executor AnalysisExecutor, log *logger.Logger) *AnalysisTaskHandler {
	return &AnalysisTaskHandler{
		executor:   executor,
		logger:     log.With("component", "analysis_tasks"),
		deliveries: deliveryCount,
	}
}

// deliveryCount reads the retry counters asynq attaches to a task context.
func deliveryCount(ctx context.Context) (int, int, bool) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

// HandleAnalysis runs the job named by the task. Errors that another attempt
// cannot fix are wrapped with asynq.SkipRetry so the queue stops retrying.
// When the last allowed delivery fails, the job is closed as failed so its
// row never outlives the task.
func (h *AnalysisTaskHandler) HandleAnalysis(ctx context.Context, t *asynq.Task) error {
	var payload AnalysisPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal analysis payload", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID, err := shared.IDFromString(payload.JobID)
	if err != nil {
		h.logger.Error("invalid job_id", "error", err, "job_id", payload.JobID)
		return fmt.Errorf("invalid job_id: %w: %w", err, asynq.SkipRetry)
	}

	retried, maxRetry, known := h.deliveries(ctx)
	log := h.logger.With(
		"job_id", payload.JobID,
		"agency_id", payload.AgencyID,
		"kind", payload.Kind,
		"retry", retried,
		"max_retry", maxRetry,
	)
	log.Info("processing analysis task")

	if err := h.executor.Execute(ctx, jobID); err != nil {
		if !retryable(err) {
			log.Warn("analysis task will not be retried", "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("analysis task failed", "error", err)
		if known && retried >= maxRetry {
			if ferr := h.executor.FailExhausted(ctx, jobID, err); ferr != nil {
				log.Error("failed to close exhausted analysis", "error", ferr)
			}
		}
		return err
	}

	log.Info("analysis task done")
	return nil
}

// RegisterHandlers registers analysis task handlers with the asynq server mux.
func (h *AnalysisTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeAnalysisRun, h.HandleAnalysis)
}

func retryable(err error) bool {
	var ee *analysis.ExecutionError
	if errors.As(err, &ee) {
		return !ee.Final
	}
	return !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrValidation)
}

// FixedRetryDelay waits the same backoff before every retry.
func FixedRetryDelay(backoff time.Duration) asynq.RetryDelayFunc {
	return func(int, error, *asynq.Task) time.Duration {
		return backoff
	}
}

func analysisQueues() []string {
	out := make([]string, len(analysis.Queues))
	for i, p := range analysis.Queues {
		out[i] = p.Queue()
	}
	return out
}

func isSkipRetry(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
