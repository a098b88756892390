package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/analyzer"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/domain/shared"
)

func submit(t *testing.T, p *pipeline, ctx context.Context, kind analysis.Kind) shared.ID {
	t.Helper()
	out, err := p.svc.Submit(ctx, SubmitAnalysisInput{Kind: string(kind), Input: map[string]any{"horizon_months": 6}})
	require.NoError(t, err)
	return out.JobID
}

func TestSubmit_PersistsPendingAndEnqueuesOnPriorityQueue(t *testing.T) {
	tests := []struct {
		kind  analysis.Kind
		queue string
	}{
		{analysis.KindMarketTrends, "high"},
		{analysis.KindPortfolioOptimization, "high"},
		{analysis.KindPropertyValuation, "normal"},
		{analysis.KindRiskAssessment, "normal"},
		{analysis.KindOccupancyForecast, "normal"},
		{analysis.KindTenantBehavior, "low"},
		{analysis.KindMaintenancePrediction, "low"},
		{analysis.KindFinancialForecast, "low"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := newPipeline()
			agencyID := shared.NewID()

			out, err := p.svc.Submit(agencyCtx(agencyID), SubmitAnalysisInput{Kind: string(tt.kind)})
			require.NoError(t, err)
			assert.Equal(t, tt.queue, out.Queue)
			assert.Equal(t, analysis.StatusPending, out.Status)

			st := p.repo.state(out.JobID)
			assert.Equal(t, analysis.StatusPending, st.Status)
			assert.True(t, st.AgencyID.Equals(agencyID))
			assert.Equal(t, 0, st.AttemptCount)
			assert.Equal(t, 3, st.MaxAttempts)

			require.Len(t, p.enqueuer.dispatches, 1)
			d := p.enqueuer.dispatches[0]
			assert.True(t, d.JobID.Equals(out.JobID))
			assert.Equal(t, tt.queue, d.Queue)
			assert.Equal(t, 5*time.Second, d.Delay)
			assert.Equal(t, analysis.DefaultRetryPolicy(), d.Policy)
		})
	}
}

func TestSubmit_UnsupportedKind(t *testing.T) {
	p := newPipeline()

	for _, kind := range []string{"horoscope", " market_trends ", "MARKET_TRENDS"} {
		_, err := p.svc.Submit(agencyCtx(shared.NewID()), SubmitAnalysisInput{Kind: kind})
		assert.ErrorIs(t, err, analysis.ErrUnsupportedKind, "kind %q", kind)
		assert.Equal(t, analysis.CodeUnsupportedKind, shared.ErrorCode(err))
	}
	assert.Equal(t, 0, p.repo.count())
	assert.Empty(t, p.enqueuer.dispatches)

	p.runner.unsupported[analysis.KindRiskAssessment] = true
	_, err = p.svc.Submit(agencyCtx(shared.NewID()), SubmitAnalysisInput{Kind: string(analysis.KindRiskAssessment)})
	assert.ErrorIs(t, err, analysis.ErrUnsupportedKind)
	assert.Equal(t, 0, p.repo.count())
}

func TestSubmit_WithoutPrincipalIsRejected(t *testing.T) {
	p := newPipeline()

	_, err := p.svc.Submit(context.Background(), SubmitAnalysisInput{Kind: string(analysis.KindMarketTrends)})
	assert.ErrorIs(t, err, tenancy.ErrNoTenantContext)
	assert.Equal(t, 0, p.repo.count())
}

func TestSubmit_ForeignAgencyIsBlockedAndAudited(t *testing.T) {
	p := newPipeline()
	own, foreign := shared.NewID(), shared.NewID()

	_, err := p.svc.Submit(agencyCtx(own), SubmitAnalysisInput{
		Kind:     string(analysis.KindMarketTrends),
		AgencyID: foreign.String(),
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsCrossTenant(err))
	assert.Equal(t, 0, p.repo.count())
	assert.Equal(t, []audit.Action{audit.ActionCrossTenantBlocked}, p.audits.actions())
}

func TestSubmit_UnrestrictedPrincipalTargetsAgency(t *testing.T) {
	p := newPipeline()
	target := shared.NewID()
	ctx := tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), Unrestricted: true})

	out, err := p.svc.Submit(ctx, SubmitAnalysisInput{Kind: string(analysis.KindRiskAssessment), AgencyID: target.String()})
	require.NoError(t, err)
	assert.True(t, p.repo.state(out.JobID).AgencyID.Equals(target))
}

func TestSubmit_EnqueueFailureMarksJobFailed(t *testing.T) {
	p := newPipeline()
	p.enqueuer.err = errors.New("redis: connection refused")
	ctx := agencyCtx(shared.NewID())

	_, err := p.svc.Submit(ctx, SubmitAnalysisInput{Kind: string(analysis.KindMarketTrends)})
	assert.ErrorIs(t, err, shared.ErrUnavailable)

	require.Equal(t, 1, p.repo.count())
	jobs, err := p.svc.ListJobs(ctx, ListAnalysesInput{})
	require.NoError(t, err)
	require.Len(t, jobs.Data, 1)
	job := jobs.Data[0]
	assert.Equal(t, analysis.StatusFailed, job.Status())
	assert.True(t, job.IsTerminal())
	assert.NotContains(t, job.ErrorMessage(), "redis")
	assert.True(t, p.publisher.last().Final)
}

func TestExecute_CompletesUnderJobAgencyWithoutPrincipal(t *testing.T) {
	p := newPipeline()
	agencyID := shared.NewID()
	jobID := submit(t, p, agencyCtx(agencyID), analysis.KindMarketTrends)

	p.runner.outcomes = []runOutcome{{result: &analyzer.Result{
		Output:     map[string]any{"trend": "up"},
		Confidence: ptrFloat(0.82),
	}}}

	require.NoError(t, p.svc.Execute(context.Background(), jobID))

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusCompleted, st.Status)
	assert.Equal(t, 0.82, st.Confidence)
	assert.Equal(t, 1, st.AttemptCount)
	assert.Equal(t, "up", st.Output["trend"])
	require.NotNil(t, st.CompletedAt)

	require.Len(t, p.runner.scopes, 1)
	assert.True(t, p.runner.scopes[0].Equals(agencyID))
	assert.Equal(t, []analysis.Status{analysis.StatusPending, analysis.StatusProcessing, analysis.StatusCompleted}, p.publisher.statuses())
}

func TestExecute_ConfidenceNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{"missing", nil, 0},
		{"above one", ptrFloat(1.7), 1},
		{"negative", ptrFloat(-0.2), 0},
		{"in range", ptrFloat(0.35), 0.35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline()
			jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindRiskAssessment)
			p.runner.outcomes = []runOutcome{{result: &analyzer.Result{Output: map[string]any{}, Confidence: tt.in}}}

			require.NoError(t, p.svc.Execute(context.Background(), jobID))
			assert.Equal(t, tt.want, p.repo.state(jobID).Confidence)
		})
	}
}

func TestExecute_FailureReturnsExecutionError(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindFinancialForecast)
	p.runner.outcomes = []runOutcome{{err: errors.New("pq: relation does not exist")}}

	err := p.svc.Execute(context.Background(), jobID)
	require.Error(t, err)

	var ee *analysis.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.False(t, ee.Final)
	assert.Equal(t, 1, ee.Attempt)
	assert.True(t, ee.JobID.Equals(jobID))

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Equal(t, "The analysis failed unexpectedly.", st.ErrorMessage)
	assert.NotNil(t, st.FailedAt)
	assert.False(t, p.publisher.last().Final)
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindPortfolioOptimization)
	p.runner.outcomes = []runOutcome{
		{err: errors.New("transient")},
		{err: errors.New("transient")},
		{result: &analyzer.Result{Output: map[string]any{"ok": true}, Confidence: ptrFloat(0.6)}},
	}

	assert.Error(t, p.svc.Execute(context.Background(), jobID))
	assert.Error(t, p.svc.Execute(context.Background(), jobID))
	require.NoError(t, p.svc.Execute(context.Background(), jobID))

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusCompleted, st.Status)
	assert.Equal(t, 3, st.AttemptCount)
	assert.Empty(t, st.ErrorMessage)
}

func TestExecute_FinalFailureIsPublishedAndAudited(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindTenantBehavior)
	p.runner.outcomes = []runOutcome{
		{err: errors.New("a")},
		{err: errors.New("b")},
		{err: context.DeadlineExceeded},
	}

	var last error
	for i := 0; i < 3; i++ {
		last = p.svc.Execute(context.Background(), jobID)
		require.Error(t, last)
	}

	var ee *analysis.ExecutionError
	require.ErrorAs(t, last, &ee)
	assert.True(t, ee.Final)
	assert.Equal(t, 3, ee.Attempt)

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Equal(t, 3, st.AttemptCount)
	assert.Equal(t, "The analysis timed out.", st.ErrorMessage)

	ev := p.publisher.last()
	assert.True(t, ev.Final)
	assert.Equal(t, analysis.StatusFailed, ev.Status)
	assert.Contains(t, p.audits.actions(), audit.ActionAnalysisFailed)

	// A redelivery after the last attempt is a no-op.
	require.NoError(t, p.svc.Execute(context.Background(), jobID))
	assert.Equal(t, 3, p.repo.state(jobID).AttemptCount)
}

func TestExecute_ValidationErrorIsNotRetried(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindPropertyValuation)
	bad := shared.NewDomainError("INVALID_ANALYSIS_INPUT", "horizon_months must be between 1 and 60", shared.ErrValidation)
	p.runner.outcomes = []runOutcome{{err: bad}}

	err := p.svc.Execute(context.Background(), jobID)
	var ee *analysis.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Final)

	st := p.repo.state(jobID)
	assert.Equal(t, "horizon_months must be between 1 and 60", st.ErrorMessage)
	assert.Equal(t, 1, st.MaxAttempts)
}

func TestExecute_DeliveryDuringLiveAttemptIsRetried(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)

	tctx, err := tenancy.WithTenant(context.Background(), p.repo.state(jobID).AgencyID)
	require.NoError(t, err)
	_, err = p.repo.BeginAttempt(tctx, jobID, time.Now())
	require.NoError(t, err)

	err = p.svc.Execute(context.Background(), jobID)
	assert.ErrorIs(t, err, analysis.ErrAlreadyProcessing)
	assert.False(t, analysis.IsExecutionError(err))
	assert.Empty(t, p.runner.scopes)

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusProcessing, st.Status)
	assert.Equal(t, 1, st.AttemptCount)
}

func TestExecute_RedeliveryAfterWorkerCrashRetriesJob(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)

	// The first worker starts the attempt and dies without saving an outcome.
	tctx, err := tenancy.WithTenant(context.Background(), p.repo.state(jobID).AgencyID)
	require.NoError(t, err)
	_, err = p.repo.BeginAttempt(tctx, jobID, time.Now())
	require.NoError(t, err)
	p.repo.setStarted(jobID, time.Now().Add(-2*time.Minute))

	err = p.svc.Execute(context.Background(), jobID)
	var ee *analysis.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.False(t, ee.Final)
	assert.Empty(t, p.runner.scopes)

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Equal(t, 1, st.AttemptCount)
	assert.Equal(t, "The analysis was interrupted.", st.ErrorMessage)
	assert.False(t, p.publisher.last().Final)

	// The queue's retry re-enters the job and runs it.
	require.NoError(t, p.svc.Execute(context.Background(), jobID))
	st = p.repo.state(jobID)
	assert.Equal(t, analysis.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.AttemptCount)
}

func TestExecute_CrashOnLastAttemptIsFinal(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindRiskAssessment)
	p.runner.outcomes = []runOutcome{{err: errors.New("a")}, {err: errors.New("b")}}
	require.Error(t, p.svc.Execute(context.Background(), jobID))
	require.Error(t, p.svc.Execute(context.Background(), jobID))

	tctx, err := tenancy.WithTenant(context.Background(), p.repo.state(jobID).AgencyID)
	require.NoError(t, err)
	_, err = p.repo.BeginAttempt(tctx, jobID, time.Now())
	require.NoError(t, err)
	p.repo.setStarted(jobID, time.Now().Add(-2*time.Minute))

	err = p.svc.Execute(context.Background(), jobID)
	var ee *analysis.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Final)
	assert.True(t, p.publisher.last().Final)
	assert.Contains(t, p.audits.actions(), audit.ActionAnalysisFailed)
}

func TestFailExhausted_ClosesJobWithAttemptsLeft(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindPortfolioOptimization)
	p.runner.outcomes = []runOutcome{{err: errors.New("upstream")}, {err: errors.New("upstream")}}
	p.repo.beginErrs = []error{nil, errors.New("could not serialize access")}

	// Three deliveries: a failed attempt, a delivery lost to a database error,
	// then another failed attempt. The queue has no retries left after that.
	var last error
	for i := 0; i < 3; i++ {
		last = p.svc.Execute(context.Background(), jobID)
		require.Error(t, last)
	}
	st := p.repo.state(jobID)
	require.Equal(t, 2, st.AttemptCount)
	require.False(t, p.publisher.last().Final)

	require.NoError(t, p.svc.FailExhausted(context.Background(), jobID, last))

	st = p.repo.state(jobID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Equal(t, 2, st.AttemptCount)
	assert.Equal(t, 2, st.MaxAttempts)
	assert.Equal(t, "The analysis failed unexpectedly.", st.ErrorMessage)
	assert.True(t, analysis.Reconstitute(st).IsTerminal())

	ev := p.publisher.last()
	assert.True(t, ev.Final)
	assert.Equal(t, analysis.StatusFailed, ev.Status)
	assert.Contains(t, p.audits.actions(), audit.ActionAnalysisFailed)

	// Later deliveries leave the closed job alone.
	require.NoError(t, p.svc.Execute(context.Background(), jobID))
	assert.Equal(t, 2, p.repo.state(jobID).AttemptCount)
}

func TestFailExhausted_JobThatNeverStarted(t *testing.T) {
	p := newPipeline()
	jobID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)
	p.repo.beginErrs = []error{errors.New("db down"), errors.New("db down"), errors.New("db down")}
	for i := 0; i < 3; i++ {
		require.Error(t, p.svc.Execute(context.Background(), jobID))
	}

	require.NoError(t, p.svc.FailExhausted(context.Background(), jobID, errors.New("db down")))

	st := p.repo.state(jobID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Equal(t, 0, st.AttemptCount)
	assert.Equal(t, "The analysis failed unexpectedly.", st.ErrorMessage)
	assert.True(t, p.publisher.last().Final)
	assert.Contains(t, p.audits.actions(), audit.ActionAnalysisFailed)
}

func TestFailExhausted_LeavesFinishedAndLiveJobs(t *testing.T) {
	p := newPipeline()
	done := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)
	require.NoError(t, p.svc.Execute(context.Background(), done))
	require.NoError(t, p.svc.FailExhausted(context.Background(), done, errors.New("late")))
	assert.Equal(t, analysis.StatusCompleted, p.repo.state(done).Status)

	live := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)
	tctx, err := tenancy.WithTenant(context.Background(), p.repo.state(live).AgencyID)
	require.NoError(t, err)
	_, err = p.repo.BeginAttempt(tctx, live, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.svc.FailExhausted(context.Background(), live, errors.New("late")))
	assert.Equal(t, analysis.StatusProcessing, p.repo.state(live).Status)

	assert.NotContains(t, p.audits.actions(), audit.ActionAnalysisFailed)
}

func TestExecute_UnknownJob(t *testing.T) {
	p := newPipeline()
	err := p.svc.Execute(context.Background(), shared.NewID())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetJob_IsScopedToCallerAgency(t *testing.T) {
	p := newPipeline()
	own := shared.NewID()
	jobID := submit(t, p, agencyCtx(own), analysis.KindMarketTrends)

	job, err := p.svc.GetJob(agencyCtx(own), jobID.String())
	require.NoError(t, err)
	assert.True(t, job.ID().Equals(jobID))

	_, err = p.svc.GetJob(agencyCtx(shared.NewID()), jobID.String())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = p.svc.GetJob(context.Background(), jobID.String())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = p.svc.GetJob(agencyCtx(own), "not-a-uuid")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestListJobs_ValidatesFilters(t *testing.T) {
	p := newPipeline()
	ctx := agencyCtx(shared.NewID())

	_, err := p.svc.ListJobs(ctx, ListAnalysesInput{Kinds: []string{"nope"}})
	assert.ErrorIs(t, err, analysis.ErrUnsupportedKind)

	_, err = p.svc.ListJobs(ctx, ListAnalysesInput{Statuses: []string{"running"}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestListKinds(t *testing.T) {
	p := newPipeline()
	p.runner.unsupported[analysis.KindOccupancyForecast] = true

	kinds := p.svc.ListKinds()
	assert.Len(t, kinds, 7)
	for _, k := range kinds {
		assert.NotEqual(t, analysis.KindOccupancyForecast, k.Kind)
		assert.Equal(t, k.Kind.Priority().Queue(), k.Queue)
	}
}

func TestSubmitForAgency(t *testing.T) {
	p := newPipeline()
	agencyID := shared.NewID()

	out, err := p.svc.SubmitForAgency(context.Background(), agencyID, analysis.KindFinancialForecast, nil)
	require.NoError(t, err)
	st := p.repo.state(out.JobID)
	assert.True(t, st.AgencyID.Equals(agencyID))
	assert.True(t, st.RequestedBy.IsZero())

	_, err = p.svc.SubmitForAgency(context.Background(), shared.ID{}, analysis.KindFinancialForecast, nil)
	assert.ErrorIs(t, err, tenancy.ErrTenantRequired)
}

func TestRecoverStuckJobs(t *testing.T) {
	p := newPipeline()
	stuckID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindMarketTrends)
	freshID := submit(t, p, agencyCtx(shared.NewID()), analysis.KindRiskAssessment)

	for _, id := range []shared.ID{stuckID, freshID} {
		tctx, err := tenancy.WithTenant(context.Background(), p.repo.state(id).AgencyID)
		require.NoError(t, err)
		_, err = p.repo.BeginAttempt(tctx, id, time.Now())
		require.NoError(t, err)
	}
	p.repo.setStarted(stuckID, time.Now().Add(-time.Hour))

	out, err := p.svc.RecoverStuckJobs(context.Background(), RecoverStuckJobsInput{StuckAfter: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 1, out.Recovered)

	st := p.repo.state(stuckID)
	assert.Equal(t, analysis.StatusFailed, st.Status)
	assert.Contains(t, st.ErrorMessage, "did not finish")
	assert.Equal(t, analysis.StatusProcessing, p.repo.state(freshID).Status)
	assert.True(t, p.publisher.last().Final)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "The analysis was interrupted.", failureMessage(context.Canceled))
	assert.Equal(t, "The data needed for this analysis is no longer available.", failureMessage(shared.ErrNotFound))
	assert.Equal(t, "The analysis failed unexpectedly.", failureMessage(errors.New("dial tcp 10.0.0.1:5432")))
}
