package analysis

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/pkg/domain/shared"
)

func newTestJob(t *testing.T) *Job {
	t.Helper()
	job, err := NewJob(shared.NewID(), KindRiskAssessment, map[string]any{"horizon_days": 90}, shared.NewID(), 3)
	require.NoError(t, err)
	return job
}

func ptr(f float64) *float64 { return &f }

func TestNewJob(t *testing.T) {
	job := newTestJob(t)
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, 0, job.AttemptCount())
	assert.Equal(t, 3, job.MaxAttempts())
	assert.False(t, job.IsTerminal())

	_, err := NewJob(shared.NewID(), Kind("astrology"), nil, shared.ID{}, 3)
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	job, err = NewJob(shared.NewID(), KindMarketTrends, nil, shared.ID{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxAttempts())
	assert.NotNil(t, job.Input())
}

func TestJob_Lifecycle(t *testing.T) {
	job := newTestJob(t)
	now := time.Now()

	require.NoError(t, job.BeginAttempt(now))
	assert.Equal(t, StatusProcessing, job.Status())
	assert.Equal(t, 1, job.AttemptCount())
	require.NotNil(t, job.StartedAt())

	require.NoError(t, job.Complete(map[string]any{"score": 0.4}, ptr(0.8), now.Add(time.Second)))
	assert.Equal(t, StatusCompleted, job.Status())
	assert.Equal(t, 0.8, job.Confidence())
	assert.True(t, job.IsTerminal())
	require.NotNil(t, job.CompletedAt())

	err := job.BeginAttempt(now)
	assert.True(t, shared.IsConflict(err))
}

func TestJob_RetryReentry(t *testing.T) {
	job := newTestJob(t)
	now := time.Now()

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, job.BeginAttempt(now), "attempt %d", attempt)
		require.NoError(t, job.Fail("boom", now))
		assert.Equal(t, StatusFailed, job.Status())
		assert.Equal(t, attempt, job.AttemptCount())
		assert.Equal(t, attempt == 3, job.IsTerminal())
		now = now.Add(time.Minute)
	}

	assert.True(t, errors.Is(job.BeginAttempt(now), ErrAttemptsExhausted))
	assert.Equal(t, 3, job.AttemptCount())
	assert.Equal(t, "boom", job.ErrorMessage())
	assert.NotNil(t, job.FailedAt())
}

func TestJob_BeginAttemptWhileProcessing(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.BeginAttempt(time.Now()))
	assert.ErrorIs(t, job.BeginAttempt(time.Now()), ErrAlreadyProcessing)
	assert.Equal(t, 1, job.AttemptCount())
}

func TestJob_FailBeforeQueueIsTerminal(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.Fail("queue unavailable", time.Now()))
	assert.True(t, job.IsTerminal())
	assert.True(t, job.StatusEvent().Final)
	assert.ErrorIs(t, job.BeginAttempt(time.Now()), ErrAttemptsExhausted)
}

func TestJob_CompleteRequiresProcessing(t *testing.T) {
	job := newTestJob(t)
	err := job.Complete(nil, nil, time.Now())
	assert.True(t, shared.IsConflict(err))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeConfidence(nil))
	assert.Equal(t, 0.0, NormalizeConfidence(ptr(math.NaN())))
	assert.Equal(t, 0.0, NormalizeConfidence(ptr(-0.3)))
	assert.Equal(t, 1.0, NormalizeConfidence(ptr(1.7)))
	assert.Equal(t, 0.42, NormalizeConfidence(ptr(0.42)))
}

func TestJob_CompleteWithoutConfidenceDefaultsToZero(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.BeginAttempt(time.Now()))
	require.NoError(t, job.Complete(map[string]any{}, nil, time.Now()))
	assert.Equal(t, 0.0, job.Confidence())
}

func TestJob_StatusEvent(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.BeginAttempt(time.Now()))
	require.NoError(t, job.Fail("timeout", time.Now()))

	ev := job.StatusEvent()
	assert.Equal(t, job.ID(), ev.JobID)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.False(t, ev.Final)
	assert.Equal(t, "timeout", ev.ErrorMessage)
}

func TestRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2, p.MaxRetries())
	assert.Equal(t, 60*time.Second, p.Backoff)
	assert.Equal(t, 300*time.Second, p.Timeout)
	assert.Equal(t, 0, RetryPolicy{}.MaxRetries())
}

func TestJob_FailFinal(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.BeginAttempt(time.Now()))
	require.NoError(t, job.FailFinal("unsupported input", time.Now()))

	assert.True(t, job.IsTerminal())
	assert.Equal(t, 1, job.MaxAttempts())
	assert.Equal(t, 0, job.AttemptsLeft())
	assert.True(t, job.StatusEvent().Final)
	assert.ErrorIs(t, job.BeginAttempt(time.Now()), ErrAttemptsExhausted)
}

func TestJob_Exhaust(t *testing.T) {
	t.Run("failed with attempts left keeps its message", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.BeginAttempt(time.Now()))
		require.NoError(t, job.Fail("The analysis failed unexpectedly.", time.Now()))
		require.False(t, job.IsTerminal())

		require.NoError(t, job.Exhaust("", time.Now()))
		assert.True(t, job.IsTerminal())
		assert.Equal(t, StatusFailed, job.Status())
		assert.Equal(t, "The analysis failed unexpectedly.", job.ErrorMessage())
		assert.Equal(t, 1, job.MaxAttempts())
		assert.True(t, job.StatusEvent().Final)
	})

	t.Run("processing", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.BeginAttempt(time.Now()))

		require.NoError(t, job.Exhaust("The analysis was interrupted.", time.Now()))
		assert.True(t, job.IsTerminal())
		assert.Equal(t, "The analysis was interrupted.", job.ErrorMessage())
		assert.NotNil(t, job.FailedAt())
	})

	t.Run("finished jobs are left alone", func(t *testing.T) {
		job := newTestJob(t)
		require.NoError(t, job.BeginAttempt(time.Now()))
		require.NoError(t, job.Complete(map[string]any{}, nil, time.Now()))

		err := job.Exhaust("late", time.Now())
		assert.True(t, shared.IsConflict(err))
		assert.Equal(t, StatusCompleted, job.Status())
	})
}
