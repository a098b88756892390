package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhub/api/internal/analyzer"
	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// persistTimeout bounds writes made after an attempt's own deadline expired.
const persistTimeout = 10 * time.Second

// AnalysisDispatch is a job handed to the queue.
type AnalysisDispatch struct {
	JobID    shared.ID
	AgencyID shared.ID
	Kind     analysis.Kind
	Queue    string
	Delay    time.Duration
	Policy   analysis.RetryPolicy
}

// AnalysisEnqueuer hands persisted jobs to the task queue.
type AnalysisEnqueuer interface {
	EnqueueAnalysis(ctx context.Context, d AnalysisDispatch) error
}

// AnalysisStatusPublisher fans job status changes out to UI clients.
type AnalysisStatusPublisher interface {
	PublishAnalysisStatus(ctx context.Context, ev analysis.StatusEvent) error
}

// ResultArchiver stores completed result documents and returns their key.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, job *analysis.Job) (string, error)
}

// AnalysisRunner computes a job's result.
type AnalysisRunner interface {
	Supports(kind analysis.Kind) bool
	Run(ctx context.Context, job *analysis.Job) (*analyzer.Result, error)
}

// AnalysisServiceConfig holds pipeline settings.
type AnalysisServiceConfig struct {
	EnqueueDelay time.Duration
	Policy       analysis.RetryPolicy
	// InterruptedAfter is how old a processing attempt must be before a new
	// delivery of the same job treats it as abandoned. It matches the queue's
	// task lease, after which a crashed worker's task is redelivered.
	InterruptedAfter time.Duration
}

// DefaultAnalysisServiceConfig is a 5s enqueue delay with the default retry policy.
func DefaultAnalysisServiceConfig() AnalysisServiceConfig {
	return AnalysisServiceConfig{
		EnqueueDelay:     5 * time.Second,
		Policy:           analysis.DefaultRetryPolicy(),
		InterruptedAfter: defaultInterruptedAfter,
	}
}

const defaultInterruptedAfter = 30 * time.Second

func (c AnalysisServiceConfig) interruptedAfter() time.Duration {
	if c.InterruptedAfter <= 0 {
		return defaultInterruptedAfter
	}
	return c.InterruptedAfter
}

// errAttemptInterrupted is the cause recorded for an attempt whose worker
// stopped before saving an outcome.
var errAttemptInterrupted = fmt.Errorf("previous attempt did not finish: %w", context.Canceled)

// AnalysisService submits analysis jobs and runs them on behalf of queue workers.
type AnalysisService struct {
	repo       analysis.Repository
	runner     AnalysisRunner
	enqueuer   AnalysisEnqueuer
	publishers []AnalysisStatusPublisher
	archiver   ResultArchiver
	auditSvc   *AuditService
	cfg        AnalysisServiceConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewAnalysisService creates an AnalysisService.
func NewAnalysisService(repo analysis.Repository, runner AnalysisRunner, cfg AnalysisServiceConfig, log *logger.Logger) *AnalysisService {
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy = analysis.DefaultRetryPolicy()
	}
	return &AnalysisService{
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		logger: log.With("service", "analysis"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEnqueuer sets the task queue client.
func (s *AnalysisService) SetEnqueuer(e AnalysisEnqueuer) {
	s.enqueuer = e
}

// AddStatusPublisher registers a status fan-out target.
func (s *AnalysisService) AddStatusPublisher(p AnalysisStatusPublisher) {
	s.publishers = append(s.publishers, p)
}

// SetArchiver enables result archiving.
func (s *AnalysisService) SetArchiver(a ResultArchiver) {
	s.archiver = a
}

// SetAuditService enables audit entries for submissions and final failures.
func (s *AnalysisService) SetAuditService(a *AuditService) {
	s.auditSvc = a
}

// SubmitAnalysisInput is a submission request.
type SubmitAnalysisInput struct {
	Kind  string         `json:"kind" validate:"required,analysis_kind"`
	Input map[string]any `json:"input"`

	// AgencyID targets another agency. Only unrestricted principals may set it.
	AgencyID string `json:"agency_id" validate:"omitempty,uuid"`
}

// SubmitAnalysisOutput is returned when a job was accepted.
type SubmitAnalysisOutput struct {
	JobID  shared.ID       `json:"job_id"`
	Kind   analysis.Kind   `json:"kind"`
	Status analysis.Status `json:"status"`
	Queue  string          `json:"queue"`
}

// Submit validates the kind, persists a pending job in the caller's agency
// and enqueues it on the kind's priority queue after the configured delay.
func (s *AnalysisService) Submit(ctx context.Context, in SubmitAnalysisInput) (*SubmitAnalysisOutput, error) {
	kind, err := analysis.ParseKind(in.Kind)
	if err != nil {
		return nil, err
	}
	if !s.runner.Supports(kind) {
		return nil, shared.NewDomainError(analysis.CodeUnsupportedKind, "no analyzer for kind "+string(kind), analysis.ErrUnsupportedKind)
	}

	var agencyID shared.ID
	if in.AgencyID != "" {
		agencyID, err = shared.IDFromString(in.AgencyID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid agency_id", shared.ErrValidation)
		}
	}

	var requestedBy shared.ID
	if p, ok := tenancy.PrincipalFrom(ctx); ok {
		requestedBy = p.UserID
	}

	job, err := analysis.NewJob(agencyID, kind, in.Input, requestedBy, s.cfg.Policy.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	queue := kind.Priority().Queue()
	log := s.logger.WithContext(ctx).With("job_id", job.ID().String(), "agency_id", job.AgencyID().String(), "kind", string(kind))

	if err := s.enqueue(ctx, job, queue); err != nil {
		metrics.AnalysisEnqueueFailures.WithLabelValues(string(kind)).Inc()
		log.Error("failed to enqueue analysis", "error", err)

		if ferr := job.Fail("the analysis could not be queued, please submit it again", s.now()); ferr == nil {
			if uerr := s.repo.Update(ctx, job); uerr != nil {
				log.Error("failed to mark unqueued analysis as failed", "error", uerr)
			}
			s.publish(ctx, job)
		}
		return nil, fmt.Errorf("%w: analysis queue unavailable", shared.ErrUnavailable)
	}

	metrics.AnalysisSubmitted.WithLabelValues(string(kind), queue).Inc()
	log.Info("analysis submitted", "queue", queue)

	if s.auditSvc != nil {
		s.auditSvc.LogAnalysisSubmitted(ctx, job)
	}
	s.publish(ctx, job)

	return &SubmitAnalysisOutput{
		JobID:  job.ID(),
		Kind:   kind,
		Status: job.Status(),
		Queue:  queue,
	}, nil
}

// SubmitForAgency submits a job with no acting user, scoped to agencyID.
// Used by the scheduler.
func (s *AnalysisService) SubmitForAgency(ctx context.Context, agencyID shared.ID, kind analysis.Kind, params map[string]any) (*SubmitAnalysisOutput, error) {
	tctx, err := tenancy.WithTenant(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	return s.Submit(tctx, SubmitAnalysisInput{Kind: string(kind), Input: params})
}

func (s *AnalysisService) enqueue(ctx context.Context, job *analysis.Job, queue string) error {
	if s.enqueuer == nil {
		return errors.New("no analysis enqueuer configured")
	}
	return s.enqueuer.EnqueueAnalysis(ctx, AnalysisDispatch{
		JobID:    job.ID(),
		AgencyID: job.AgencyID(),
		Kind:     job.Kind(),
		Queue:    queue,
		Delay:    s.cfg.EnqueueDelay,
		Policy:   s.cfg.Policy,
	})
}

// Execute runs one attempt of a job. It is called by queue workers, which
// carry no principal: the job's owner is looked up first and the rest of the
// attempt runs scoped to that agency.
//
// A failed attempt is persisted and returned as *analysis.ExecutionError so
// the queue can retry it. Deliveries for jobs that are already finished
// return nil. A delivery that finds the job still processing either closes
// the abandoned attempt as failed or, when the attempt is recent, returns a
// retryable error so the delivery is not lost.
func (s *AnalysisService) Execute(ctx context.Context, jobID shared.ID) error {
	agencyID, err := s.repo.OwnerOf(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve owner of analysis %s: %w", jobID, err)
	}
	ctx, err = tenancy.WithTenant(ctx, agencyID)
	if err != nil {
		return err
	}

	log := s.logger.With("job_id", jobID.String(), "agency_id", agencyID.String())

	job, err := s.repo.BeginAttempt(ctx, jobID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrAlreadyProcessing):
			return s.closeInterrupted(ctx, jobID, log)
		case errors.Is(err, analysis.ErrAttemptsExhausted), shared.IsConflict(err):
			log.Info("analysis already finished, skipping delivery", "reason", err.Error())
			return nil
		}
		return fmt.Errorf("begin analysis attempt: %w", err)
	}

	log = log.With("kind", string(job.Kind()), "attempt", job.AttemptCount())
	log.Info("analysis attempt started")
	s.publish(ctx, job)

	start := time.Now()
	res, runErr := s.runner.Run(ctx, job)
	metrics.AnalysisAttemptDuration.WithLabelValues(string(job.Kind())).Observe(time.Since(start).Seconds())

	if runErr != nil {
		return s.failAttempt(ctx, job, runErr, log)
	}

	if err := job.Complete(res.Output, res.Confidence, s.now()); err != nil {
		return err
	}

	wctx, cancel := detached(ctx)
	defer cancel()

	if err := s.repo.Update(wctx, job); err != nil {
		return fmt.Errorf("save completed analysis: %w", err)
	}

	metrics.AnalysisAttempts.WithLabelValues(string(job.Kind()), "completed").Inc()
	metrics.AnalysisConfidence.WithLabelValues(string(job.Kind())).Observe(job.Confidence())
	log.Info("analysis completed", "confidence", job.Confidence(), "duration", time.Since(start))

	s.publish(wctx, job)
	s.archive(wctx, job, log)
	return nil
}

func (s *AnalysisService) failAttempt(ctx context.Context, job *analysis.Job, cause error, log *logger.Logger) error {
	wctx, cancel := detached(ctx)
	defer cancel()

	msg := failureMessage(cause)
	var err error
	if errors.Is(cause, shared.ErrValidation) {
		err = job.FailFinal(msg, s.now())
	} else {
		err = job.Fail(msg, s.now())
	}
	if err != nil {
		log.Error("failed to record analysis failure", "error", err)
	} else if err := s.repo.Update(wctx, job); err != nil {
		log.Error("failed to persist analysis failure", "error", err)
	}

	final := job.IsTerminal()
	outcome := "failed"
	if final {
		outcome = "final_failed"
	}
	metrics.AnalysisAttempts.WithLabelValues(string(job.Kind()), outcome).Inc()
	log.Warn("analysis attempt failed", "final", final, "attempts_left", job.AttemptsLeft(), "error", cause)

	s.publish(wctx, job)
	if final && s.auditSvc != nil {
		s.auditSvc.LogAnalysisFailed(wctx, job)
	}

	return &analysis.ExecutionError{
		JobID:   job.ID(),
		Kind:    job.Kind(),
		Attempt: job.AttemptCount(),
		Final:   final,
		Err:     cause,
	}
}

// closeInterrupted handles a delivery for a job left in processing. The queue
// only redelivers a task once the previous delivery is gone, so an attempt
// older than the task lease belongs to a worker that stopped.
func (s *AnalysisService) closeInterrupted(ctx context.Context, jobID shared.ID, log *logger.Logger) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load processing analysis: %w", err)
	}
	if !job.IsProcessing() {
		if job.IsCompleted() || job.IsTerminal() {
			return nil
		}
		return fmt.Errorf("analysis %s changed state during delivery: %w", jobID, analysis.ErrAlreadyProcessing)
	}

	started := job.StartedAt()
	if started != nil && s.now().Sub(*started) < s.cfg.interruptedAfter() {
		log.Warn("analysis attempt still in flight, delivery will be retried")
		return fmt.Errorf("analysis %s: %w", jobID, analysis.ErrAlreadyProcessing)
	}

	log = log.With("kind", string(job.Kind()), "attempt", job.AttemptCount())
	log.Warn("closing interrupted analysis attempt")
	return s.failAttempt(ctx, job, errAttemptInterrupted, log)
}

// FailExhausted records the final failure of a job whose queue deliveries ran
// out before its attempts did, for example after database errors that kept an
// attempt from starting. Jobs that already finished are left as they are, and
// so is an attempt still within its timeout.
func (s *AnalysisService) FailExhausted(ctx context.Context, jobID shared.ID, cause error) error {
	wctx, cancel := detached(ctx)
	defer cancel()

	agencyID, err := s.repo.OwnerOf(wctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve owner of analysis %s: %w", jobID, err)
	}
	wctx, err = tenancy.WithTenant(wctx, agencyID)
	if err != nil {
		return err
	}

	job, err := s.repo.GetByID(wctx, jobID)
	if err != nil {
		return fmt.Errorf("load exhausted analysis: %w", err)
	}
	if job.IsTerminal() {
		return nil
	}
	if started := job.StartedAt(); job.IsProcessing() && started != nil && s.now().Sub(*started) < s.cfg.Policy.Timeout {
		return nil
	}

	msg := ""
	if !job.IsFailed() {
		msg = failureMessage(cause)
	}
	if err := job.Exhaust(msg, s.now()); err != nil {
		return err
	}
	if err := s.repo.Update(wctx, job); err != nil {
		return fmt.Errorf("save exhausted analysis: %w", err)
	}

	metrics.AnalysisAttempts.WithLabelValues(string(job.Kind()), "exhausted").Inc()
	s.logger.Warn("analysis deliveries exhausted",
		"job_id", jobID.String(),
		"agency_id", agencyID.String(),
		"kind", string(job.Kind()),
		"attempts", job.AttemptCount(),
		"error", cause,
	)

	s.publish(wctx, job)
	if s.auditSvc != nil {
		s.auditSvc.LogAnalysisFailed(wctx, job)
	}
	return nil
}

// detached keeps ctx values, including the tenancy scope, but not its deadline.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// failureMessage maps an attempt error to a message safe to show in the UI.
func failureMessage(err error) string {
	var de *shared.DomainError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The analysis timed out."
	case errors.Is(err, context.Canceled):
		return "The analysis was interrupted."
	case errors.As(err, &de):
		return de.Message
	case errors.Is(err, shared.ErrNotFound):
		return "The data needed for this analysis is no longer available."
	default:
		return "The analysis failed unexpectedly."
	}
}

func (s *AnalysisService) publish(ctx context.Context, job *analysis.Job) {
	ev := job.StatusEvent()
	for _, p := range s.publishers {
		if err := p.PublishAnalysisStatus(ctx, ev); err != nil {
			s.logger.Warn("failed to publish analysis status",
				"job_id", ev.JobID.String(),
				"status", string(ev.Status),
				"error", err,
			)
		}
	}
}

func (s *AnalysisService) archive(ctx context.Context, job *analysis.Job, log *logger.Logger) {
	if s.archiver == nil {
		return
	}
	key, err := s.archiver.ArchiveResult(ctx, job)
	if err != nil {
		metrics.AnalysisArchiveFailures.Inc()
		log.Warn("failed to archive analysis result", "error", err)
		return
	}
	log.Debug("analysis result archived", "key", key)
}

// GetJob returns a job visible to the caller.
func (s *AnalysisService) GetJob(ctx context.Context, id string) (*analysis.Job, error) {
	jobID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid job id", shared.ErrValidation)
	}
	return s.repo.GetByID(ctx, jobID)
}

// ListAnalysesInput filters job listings.
type ListAnalysesInput struct {
	Kinds    []string `validate:"dive,analysis_kind"`
	Statuses []string `validate:"dive,analysis_status"`
	Sort     string
	Page     int
	PerPage  int
}

// ListJobs lists jobs visible to the caller.
func (s *AnalysisService) ListJobs(ctx context.Context, in ListAnalysesInput) (pagination.Result[*analysis.Job], error) {
	filter := analysis.ListFilter{Sort: in.Sort}
	for _, k := range in.Kinds {
		kind, err := analysis.ParseKind(k)
		if err != nil {
			return pagination.Result[*analysis.Job]{}, err
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	for _, st := range in.Statuses {
		status := analysis.Status(st)
		if !status.IsValid() {
			return pagination.Result[*analysis.Job]{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, st)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return s.repo.List(ctx, filter, pagination.New(in.Page, in.PerPage))
}

// KindInfo describes a supported kind.
type KindInfo struct {
	Kind     analysis.Kind     `json:"kind"`
	Priority analysis.Priority `json:"priority"`
	Queue    string            `json:"queue"`
}

// ListKinds returns every kind with an analyzer.
func (s *AnalysisService) ListKinds() []KindInfo {
	var out []KindInfo
	for _, k := range analysis.AllKinds() {
		if !s.runner.Supports(k) {
			continue
		}
		out = append(out, KindInfo{Kind: k, Priority: k.Priority(), Queue: k.Priority().Queue()})
	}
	return out
}

// RecoverStuckJobsInput configures a recovery run.
type RecoverStuckJobsInput struct {
	// StuckAfter is how long a job may stay in processing. Default: timeout + 5m.
	StuckAfter time.Duration
	// Limit caps jobs per run. Default 50.
	Limit int
}

// RecoverStuckJobsOutput summarizes a recovery run.
type RecoverStuckJobsOutput struct {
	Total     int `json:"total"`
	Recovered int `json:"recovered"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// RecoverStuckJobs fails jobs left in processing by a worker that died.
// Each job is handled scoped to its own agency.
func (s *AnalysisService) RecoverStuckJobs(ctx context.Context, in RecoverStuckJobsInput) (*RecoverStuckJobsOutput, error) {
	if in.StuckAfter <= 0 {
		in.StuckAfter = s.cfg.Policy.Timeout + 5*time.Minute
	}
	if in.Limit <= 0 {
		in.Limit = 50
	}

	stuck, err := s.repo.FindStuck(ctx, s.now().Add(-in.StuckAfter), in.Limit)
	if err != nil {
		return nil, fmt.Errorf("find stuck analyses: %w", err)
	}

	out := &RecoverStuckJobsOutput{Total: len(stuck)}
	msg := fmt.Sprintf("The analysis did not finish within %s.", in.StuckAfter)

	for _, o := range stuck {
		recovered, err := s.recoverOne(ctx, o, msg)
		switch {
		case err != nil:
			out.Errors++
			s.logger.Error("failed to recover stuck analysis", "job_id", o.JobID.String(), "error", err)
		case recovered:
			out.Recovered++
		default:
			out.Skipped++
		}
	}

	if out.Total > 0 {
		metrics.AnalysisRecovered.Add(float64(out.Recovered))
		s.logger.Info("stuck analysis recovery completed",
			"total", out.Total,
			"recovered", out.Recovered,
			"skipped", out.Skipped,
			"errors", out.Errors,
		)
	}
	return out, nil
}

func (s *AnalysisService) recoverOne(ctx context.Context, o analysis.Ownership, msg string) (bool, error) {
	tctx, err := tenancy.WithTenant(ctx, o.AgencyID)
	if err != nil {
		return false, err
	}

	job, err := s.repo.GetByID(tctx, o.JobID)
	if err != nil {
		return false, err
	}
	if !job.IsProcessing() {
		return false, nil
	}

	if err := job.FailFinal(msg, s.now()); err != nil {
		return false, err
	}
	if err := s.repo.Update(tctx, job); err != nil {
		return false, err
	}

	s.logger.Info("recovered stuck analysis",
		"job_id", job.ID().String(),
		"agency_id", job.AgencyID().String(),
		"kind", string(job.Kind()),
	)
	s.publish(tctx, job)
	if s.auditSvc != nil {
		s.auditSvc.LogAnalysisFailed(tctx, job)
	}
	return true, nil
}
