package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestAnalysisTaskOptions(t *testing.T) {
	jobID := shared.NewID()
	tests := []struct {
		name      string
		kind      analysis.Kind
		queue     string
		delay     time.Duration
		wantQueue string
	}{
		{"high priority kind", analysis.KindMarketTrends, "high", 5 * time.Second, "high"},
		{"low priority kind", analysis.KindTenantBehavior, "low", 5 * time.Second, "low"},
		{"queue derived from kind", analysis.KindPortfolioOptimization, "", 0, "high"},
		{"normal default", analysis.KindRiskAssessment, "", 0, "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := optionValues(analysisTaskOptions(app.AnalysisDispatch{
				JobID:  jobID,
				Kind:   tt.kind,
				Queue:  tt.queue,
				Delay:  tt.delay,
				Policy: analysis.DefaultRetryPolicy(),
			}))

			assert.Equal(t, tt.wantQueue, opts[asynq.QueueOpt])
			assert.Equal(t, 2, opts[asynq.MaxRetryOpt])
			assert.Equal(t, 300*time.Second, opts[asynq.TimeoutOpt])
			assert.Equal(t, jobID.String(), opts[asynq.TaskIDOpt])

			delay, ok := opts[asynq.ProcessInOpt]
			if tt.delay > 0 {
				require.True(t, ok)
				assert.Equal(t, tt.delay, delay)
			} else {
				assert.False(t, ok)
			}
		})
	}
}

func TestNewAnalysisTask_Payload(t *testing.T) {
	d := app.AnalysisDispatch{
		JobID:    shared.NewID(),
		AgencyID: shared.NewID(),
		Kind:     analysis.KindFinancialForecast,
		Policy:   analysis.DefaultRetryPolicy(),
	}
	task, err := NewAnalysisTask(d)
	require.NoError(t, err)
	assert.Equal(t, TypeAnalysisRun, task.Type())

	var p AnalysisPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, d.JobID.String(), p.JobID)
	assert.Equal(t, d.AgencyID.String(), p.AgencyID)
	assert.Equal(t, "financial_forecast", p.Kind)
}

func TestFixedRetryDelay(t *testing.T) {
	delay := FixedRetryDelay(60 * time.Second)
	for n := 0; n < 5; n++ {
		assert.Equal(t, 60*time.Second, delay(n, errors.New("boom"), nil))
	}
}

func TestWorkerConfig_QueueWeights(t *testing.T) {
	cfg := WorkerConfig{Queues: map[string]int{"high": 10, "low": 0, "default": 4}}
	assert.Equal(t, map[string]int{"high": 10, "normal": 3, "low": 1}, cfg.queueWeights())
}

type fakeExecutor struct {
	err       error
	calls     []shared.ID
	exhausted []shared.ID
}

func (f *fakeExecutor) Execute(_ context.Context, jobID shared.ID) error {
	f.calls = append(f.calls, jobID)
	return f.err
}

func (f *fakeExecutor) FailExhausted(_ context.Context, jobID shared.ID, _ error) error {
	f.exhausted = append(f.exhausted, jobID)
	return nil
}

func analysisTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(AnalysisPayload{JobID: jobID, AgencyID: shared.NewID().String(), Kind: "market_trends"})
	require.NoError(t, err)
	return asynq.NewTask(TypeAnalysisRun, data)
}

func TestHandleAnalysis(t *testing.T) {
	jobID := shared.NewID()
	transient := &analysis.ExecutionError{JobID: jobID, Attempt: 1, Err: errors.New("upstream timeout")}
	final := &analysis.ExecutionError{JobID: jobID, Attempt: 3, Final: true, Err: errors.New("upstream timeout")}

	tests := []struct {
		name      string
		execErr   error
		wantErr   bool
		wantRetry bool
	}{
		{"success", nil, false, false},
		{"transient failure is retried", transient, true, true},
		{"final failure is not retried", final, true, false},
		{"wrapped final failure is not retried", fmt.Errorf("execute: %w", final), true, false},
		{"missing job is not retried", shared.ErrNotFound, true, false},
		{"validation error is not retried", fmt.Errorf("bad input: %w", shared.ErrValidation), true, false},
		{"unknown error is retried", errors.New("connection reset"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tt.execErr}
			h := NewAnalysisTaskHandler(exec, logger.NewNop())

			err := h.HandleAnalysis(context.Background(), analysisTask(t, jobID.String()))
			require.Len(t, exec.calls, 1)
			assert.True(t, exec.calls[0].Equals(jobID))

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.execErr)
			assert.Equal(t, !tt.wantRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleAnalysis_LastDeliveryClosesJob(t *testing.T) {
	jobID := shared.NewID()
	transient := &analysis.ExecutionError{JobID: jobID, Attempt: 2, Err: errors.New("upstream timeout")}
	final := &analysis.ExecutionError{JobID: jobID, Attempt: 3, Final: true, Err: errors.New("upstream timeout")}

	tests := []struct {
		name          string
		execErr       error
		retried       int
		wantExhausted bool
	}{
		{"first delivery", transient, 0, false},
		{"middle delivery", errors.New("connection reset"), 1, false},
		{"last delivery with attempts left", transient, 2, true},
		{"last delivery failing before the attempt", errors.New("connection reset"), 2, true},
		{"final failure is already recorded", final, 2, false},
		{"success on last delivery", nil, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tt.execErr}
			h := NewAnalysisTaskHandler(exec, logger.NewNop())
			h.deliveries = func(context.Context) (int, int, bool) { return tt.retried, 2, true }

			_ = h.HandleAnalysis(context.Background(), analysisTask(t, jobID.String()))
			if tt.wantExhausted {
				require.Len(t, exec.exhausted, 1)
				assert.True(t, exec.exhausted[0].Equals(jobID))
			} else {
				assert.Empty(t, exec.exhausted)
			}
		})
	}
}

func TestHandleAnalysis_UnknownDeliveryCountNeverCloses(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("connection reset")}
	h := NewAnalysisTaskHandler(exec, logger.NewNop())

	err := h.HandleAnalysis(context.Background(), analysisTask(t, shared.NewID().String()))
	require.Error(t, err)
	assert.Empty(t, exec.exhausted)
}

func TestHandleAnalysis_BadPayloadSkipsRetry(t *testing.T) {
	exec := &fakeExecutor{}
	h := NewAnalysisTaskHandler(exec, logger.NewNop())

	err := h.HandleAnalysis(context.Background(), asynq.NewTask(TypeAnalysisRun, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleAnalysis(context.Background(), analysisTask(t, "not-a-uuid"))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, exec.calls)
}

type staticAgencies struct {
	ids []shared.ID
	err error
}

func (s staticAgencies) ActiveAgencyIDs(context.Context) ([]shared.ID, error) {
	return s.ids, s.err
}

type recordingSubmitter struct {
	mu      sync.Mutex
	calls   map[shared.ID]analysis.Kind
	failFor shared.ID
}

func (r *recordingSubmitter) SubmitForAgency(_ context.Context, agencyID shared.ID, kind analysis.Kind, params map[string]any) (*app.SubmitAnalysisOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agencyID.Equals(r.failFor) {
		return nil, errors.New("queue unavailable")
	}
	if r.calls == nil {
		r.calls = map[shared.ID]analysis.Kind{}
	}
	r.calls[agencyID] = kind
	return &app.SubmitAnalysisOutput{JobID: shared.NewID(), Kind: kind, Status: analysis.StatusPending}, nil
}

func TestScheduler_RunKind(t *testing.T) {
	a, b, c := shared.NewID(), shared.NewID(), shared.NewID()
	sub := &recordingSubmitter{failFor: b}
	s, err := NewScheduler(map[string]string{"market_trends": "@daily"}, staticAgencies{ids: []shared.ID{a, b, c}}, sub, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []analysis.Kind{analysis.KindMarketTrends}, s.Kinds())

	n, err := s.RunKind(context.Background(), analysis.KindMarketTrends)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, analysis.KindMarketTrends, sub.calls[a])
	assert.Equal(t, analysis.KindMarketTrends, sub.calls[c])
	assert.NotContains(t, sub.calls, b)
}

func TestScheduler_RunKindListError(t *testing.T) {
	s, err := NewScheduler(nil, staticAgencies{err: errors.New("db down")}, &recordingSubmitter{}, logger.NewNop())
	require.NoError(t, err)

	_, err = s.RunKind(context.Background(), analysis.KindRiskAssessment)
	assert.Error(t, err)
}

func TestNewScheduler_Rejects(t *testing.T) {
	_, err := NewScheduler(map[string]string{"astrology": "@daily"}, staticAgencies{}, &recordingSubmitter{}, logger.NewNop())
	assert.ErrorIs(t, err, analysis.ErrUnsupportedKind)

	_, err = NewScheduler(map[string]string{"market_trends": "every tuesday"}, staticAgencies{}, &recordingSubmitter{}, logger.NewNop())
	assert.Error(t, err)
}

func TestScheduler_RunWithoutKindsReturnsOnCancel(t *testing.T) {
	s, err := NewScheduler(nil, staticAgencies{}, &recordingSubmitter{}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
