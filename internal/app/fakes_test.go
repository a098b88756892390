package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agencyhub/api/internal/analyzer"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// memJobRepo stores jobs in memory and applies the tenancy filter the way
// the postgres repository does.
type memJobRepo struct {
	mu     sync.Mutex
	jobs   map[shared.ID]analysis.JobState
	order  []shared.ID
	filter *tenancy.Filter

	// beginErrs are returned by the next BeginAttempt calls, in order.
	// A nil entry lets that call through.
	beginErrs []error
}

func newMemJobRepo(filter *tenancy.Filter) *memJobRepo {
	return &memJobRepo{jobs: map[shared.ID]analysis.JobState{}, filter: filter}
}

func (r *memJobRepo) Create(ctx context.Context, job *analysis.Job) error {
	if err := r.filter.AssignOnCreate(ctx, job); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID()] = job.State()
	r.order = append(r.order, job.ID())
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id shared.ID) (*analysis.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok || !tenancy.ScopeFor(ctx).Allows(st.AgencyID) {
		return nil, shared.ErrNotFound
	}
	return analysis.Reconstitute(st), nil
}

func (r *memJobRepo) Update(ctx context.Context, job *analysis.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[job.ID()]
	if !ok {
		return shared.ErrNotFound
	}
	if err := r.filter.GuardUpdate(ctx, analysis.Reconstitute(st)); err != nil {
		return err
	}
	next := job.State()
	next.AgencyID = st.AgencyID
	r.jobs[job.ID()] = next
	return nil
}

func (r *memJobRepo) List(ctx context.Context, f analysis.ListFilter, page pagination.Pagination) (pagination.Result[*analysis.Job], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope := tenancy.ScopeFor(ctx)
	var out []*analysis.Job
	for _, id := range r.order {
		st := r.jobs[id]
		if scope.Allows(st.AgencyID) {
			out = append(out, analysis.Reconstitute(st))
		}
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *memJobRepo) BeginAttempt(ctx context.Context, id shared.ID, now time.Time) (*analysis.Job, error) {
	r.mu.Lock()
	if len(r.beginErrs) > 0 {
		err := r.beginErrs[0]
		r.beginErrs = r.beginErrs[1:]
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	r.mu.Unlock()

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.BeginAttempt(now); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.jobs[id] = job.State()
	r.mu.Unlock()
	return job, nil
}

func (r *memJobRepo) OwnerOf(_ context.Context, id shared.ID) (shared.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok {
		return shared.ID{}, shared.ErrNotFound
	}
	return st.AgencyID, nil
}

func (r *memJobRepo) FindStuck(_ context.Context, before time.Time, limit int) ([]analysis.Ownership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []analysis.Ownership
	for _, id := range r.order {
		st := r.jobs[id]
		if st.Status == analysis.StatusProcessing && st.StartedAt != nil && st.StartedAt.Before(before) {
			out = append(out, analysis.Ownership{JobID: id, AgencyID: st.AgencyID})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memJobRepo) state(id shared.ID) analysis.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *memJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// setStarted moves a job's start back in time.
func (r *memJobRepo) setStarted(id shared.ID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.jobs[id]
	st.StartedAt = &at
	r.jobs[id] = st
}

type runOutcome struct {
	result *analyzer.Result
	err    error
}

// scriptedRunner returns its outcomes in order and records the agency each
// run was scoped to.
type scriptedRunner struct {
	mu          sync.Mutex
	outcomes    []runOutcome
	unsupported map[analysis.Kind]bool
	scopes      []shared.ID
}

func (r *scriptedRunner) Supports(kind analysis.Kind) bool {
	return kind.IsValid() && !r.unsupported[kind]
}

func (r *scriptedRunner) Run(ctx context.Context, _ *analysis.Job) (*analyzer.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, tenancy.ScopeFor(ctx).AgencyID())
	if len(r.outcomes) == 0 {
		return &analyzer.Result{Output: map[string]any{}}, nil
	}
	next := r.outcomes[0]
	r.outcomes = r.outcomes[1:]
	return next.result, next.err
}

type recordingEnqueuer struct {
	mu         sync.Mutex
	dispatches []AnalysisDispatch
	err        error
}

func (e *recordingEnqueuer) EnqueueAnalysis(_ context.Context, d AnalysisDispatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.dispatches = append(e.dispatches, d)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []analysis.StatusEvent
}

func (p *recordingPublisher) PublishAnalysisStatus(_ context.Context, ev analysis.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) statuses() []analysis.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]analysis.Status, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Status
	}
	return out
}

func (p *recordingPublisher) last() analysis.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *memAuditRepo) Create(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memAuditRepo) List(ctx context.Context, f audit.Filter, page pagination.Pagination) (pagination.Result[*audit.Entry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope := tenancy.ScopeFor(ctx)
	var out []*audit.Entry
	for _, e := range r.entries {
		if scope.Allows(e.AgencyID()) {
			out = append(out, e)
		}
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *memAuditRepo) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keep []*audit.Entry
	var n int64
	for _, e := range r.entries {
		if e.CreatedAt().Before(cutoff) && n < int64(limit) {
			n++
			continue
		}
		keep = append(keep, e)
	}
	r.entries = keep
	return n, nil
}

func (r *memAuditRepo) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// pipeline wires an AnalysisService over in-memory fakes.
type pipeline struct {
	svc       *AnalysisService
	repo      *memJobRepo
	runner    *scriptedRunner
	enqueuer  *recordingEnqueuer
	publisher *recordingPublisher
	audits    *memAuditRepo
}

func newPipeline() *pipeline {
	log := logger.NewNop()
	audits := &memAuditRepo{}
	auditSvc := NewAuditService(audits, log)
	filter := tenancy.NewFilter(auditSvc, log)

	p := &pipeline{
		repo:      newMemJobRepo(filter),
		runner:    &scriptedRunner{unsupported: map[analysis.Kind]bool{}},
		enqueuer:  &recordingEnqueuer{},
		publisher: &recordingPublisher{},
		audits:    audits,
	}
	p.svc = NewAnalysisService(p.repo, p.runner, DefaultAnalysisServiceConfig(), log)
	p.svc.SetEnqueuer(p.enqueuer)
	p.svc.AddStatusPublisher(p.publisher)
	p.svc.SetAuditService(auditSvc)
	return p
}

func agencyCtx(agencyID shared.ID) context.Context {
	return tenancy.WithPrincipal(context.Background(), tenancy.Principal{
		UserID:   shared.NewID(),
		AgencyID: agencyID,
	})
}

func ptrFloat(f float64) *float64 { return &f }
