package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/logger"
)

type countingController struct {
	name  string
	calls atomic.Int32
	err   error
}

func (c *countingController) Name() string            { return c.name }
func (c *countingController) Interval() time.Duration { return 10 * time.Millisecond }

func (c *countingController) Reconcile(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

type recordedRun struct {
	name  string
	items int
	err   error
}

type memMetrics struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (m *memMetrics) RecordReconcile(name string, items int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, recordedRun{name, items, err})
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	ok := &countingController{name: "ok"}
	failing := &countingController{name: "failing", err: errors.New("db down")}

	met := &memMetrics{}
	m := NewManager(met, logger.NewNop())
	m.Register(ok)
	m.Register(failing)
	assert.Equal(t, []string{"ok", "failing"}, m.Names())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ok.calls.Load() >= 2 && failing.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}

	met.mu.Lock()
	defer met.mu.Unlock()
	var sawErr bool
	for _, r := range met.runs {
		if r.name == "failing" && r.err != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}

func TestManager_RunOnce(t *testing.T) {
	c := &countingController{name: "once"}
	m := NewManager(nil, logger.NewNop())
	m.Register(c)

	n, err := m.RunOnce(context.Background(), "once")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), c.calls.Load())

	_, err = m.RunOnce(context.Background(), "missing")
	assert.Error(t, err)
}

type fakeRecoverer struct {
	input app.RecoverStuckJobsInput
	out   *app.RecoverStuckJobsOutput
	err   error
}

func (f *fakeRecoverer) RecoverStuckJobs(_ context.Context, in app.RecoverStuckJobsInput) (*app.RecoverStuckJobsOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestAnalysisRecoveryController(t *testing.T) {
	rec := &fakeRecoverer{out: &app.RecoverStuckJobsOutput{Total: 3, Recovered: 2, Errors: 1}}
	c := NewAnalysisRecoveryController(rec, AnalysisRecoveryConfig{StuckAfter: 6 * time.Minute}, logger.NewNop())

	assert.Equal(t, 5*time.Minute, c.Interval())

	n, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 6*time.Minute, rec.input.StuckAfter)
	assert.Equal(t, 100, rec.input.Limit)

	rec.err = errors.New("boom")
	_, err = c.Reconcile(context.Background())
	assert.Error(t, err)
}

type fakePurger struct {
	remaining int64
	cutoffs   []time.Time
}

func (f *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	n := min(f.remaining, int64(limit))
	f.remaining -= n
	return n, nil
}

func TestAuditRetentionController_Batches(t *testing.T) {
	p := &fakePurger{remaining: 25}
	c := NewAuditRetentionController(p, AuditRetentionConfig{RetentionDays: 30, BatchSize: 10}, logger.NewNop())
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	require.Len(t, p.cutoffs, 3)
	assert.Equal(t, now.AddDate(0, 0, -30), p.cutoffs[0])
}

func TestAuditRetentionController_MaxBatches(t *testing.T) {
	p := &fakePurger{remaining: 1000}
	c := NewAuditRetentionController(p, AuditRetentionConfig{BatchSize: 10, MaxBatches: 2}, logger.NewNop())

	n, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, int64(980), p.remaining)
}
