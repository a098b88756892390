package analysis

import (
	"math"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// ResourceType names analysis jobs in audit entries.
const ResourceType = "analysis_job"

// Job is one request to compute an insight for an agency.
type Job struct {
	id          shared.ID
	agencyID    shared.ID
	kind        Kind
	input       map[string]any
	output      map[string]any
	status      Status
	confidence  float64
	errorMsg    string
	requestedBy shared.ID

	attemptCount int
	maxAttempts  int

	createdAt   time.Time
	updatedAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	failedAt    *time.Time
}

// NewJob creates a pending job. agencyID may be zero, it is then assigned by
// the tenancy filter before the job is persisted.
func NewJob(agencyID shared.ID, kind Kind, input map[string]any, requestedBy shared.ID, maxAttempts int) (*Job, error) {
	if !kind.IsValid() {
		return nil, shared.NewDomainError(CodeUnsupportedKind, "unsupported analysis kind: "+string(kind), ErrUnsupportedKind)
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if input == nil {
		input = map[string]any{}
	}

	now := time.Now().UTC()
	return &Job{
		id:          shared.NewID(),
		agencyID:    agencyID,
		kind:        kind,
		input:       input,
		status:      StatusPending,
		requestedBy: requestedBy,
		maxAttempts: maxAttempts,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// JobState is the persisted form of a Job.
type JobState struct {
	ID           shared.ID
	AgencyID     shared.ID
	Kind         Kind
	Input        map[string]any
	Output       map[string]any
	Status       Status
	Confidence   float64
	ErrorMessage string
	RequestedBy  shared.ID
	AttemptCount int
	MaxAttempts  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
}

// Reconstitute rebuilds a Job from storage.
func Reconstitute(s JobState) *Job {
	return &Job{
		id:           s.ID,
		agencyID:     s.AgencyID,
		kind:         s.Kind,
		input:        s.Input,
		output:       s.Output,
		status:       s.Status,
		confidence:   s.Confidence,
		errorMsg:     s.ErrorMessage,
		requestedBy:  s.RequestedBy,
		attemptCount: s.AttemptCount,
		maxAttempts:  s.MaxAttempts,
		createdAt:    s.CreatedAt,
		updatedAt:    s.UpdatedAt,
		startedAt:    s.StartedAt,
		completedAt:  s.CompletedAt,
		failedAt:     s.FailedAt,
	}
}

// State returns the persisted form of the job.
func (j *Job) State() JobState {
	return JobState{
		ID:           j.id,
		AgencyID:     j.agencyID,
		Kind:         j.kind,
		Input:        j.input,
		Output:       j.output,
		Status:       j.status,
		Confidence:   j.confidence,
		ErrorMessage: j.errorMsg,
		RequestedBy:  j.requestedBy,
		AttemptCount: j.attemptCount,
		MaxAttempts:  j.maxAttempts,
		CreatedAt:    j.createdAt,
		UpdatedAt:    j.updatedAt,
		StartedAt:    j.startedAt,
		CompletedAt:  j.completedAt,
		FailedAt:     j.failedAt,
	}
}

func (j *Job) ID() shared.ID             { return j.id }
func (j *Job) AgencyID() shared.ID       { return j.agencyID }
func (j *Job) Kind() Kind                { return j.kind }
func (j *Job) Input() map[string]any     { return j.input }
func (j *Job) Output() map[string]any    { return j.output }
func (j *Job) Status() Status            { return j.status }
func (j *Job) Confidence() float64       { return j.confidence }
func (j *Job) ErrorMessage() string      { return j.errorMsg }
func (j *Job) RequestedBy() shared.ID    { return j.requestedBy }
func (j *Job) AttemptCount() int         { return j.attemptCount }
func (j *Job) MaxAttempts() int          { return j.maxAttempts }
func (j *Job) CreatedAt() time.Time      { return j.createdAt }
func (j *Job) UpdatedAt() time.Time      { return j.updatedAt }
func (j *Job) StartedAt() *time.Time     { return j.startedAt }
func (j *Job) CompletedAt() *time.Time   { return j.completedAt }
func (j *Job) FailedAt() *time.Time      { return j.failedAt }
func (j *Job) ResourceType() string      { return ResourceType }
func (j *Job) AssignAgency(id shared.ID) { j.agencyID = id }
func (j *Job) Priority() Priority        { return j.kind.Priority() }
func (j *Job) AttemptsLeft() int         { return max(j.maxAttempts-j.attemptCount, 0) }
func (j *Job) HasStarted() bool          { return j.startedAt != nil }
func (j *Job) IsCompleted() bool         { return j.status == StatusCompleted }
func (j *Job) IsFailed() bool            { return j.status == StatusFailed }
func (j *Job) IsPending() bool           { return j.status == StatusPending }
func (j *Job) IsProcessing() bool        { return j.status == StatusProcessing }

// IsTerminal reports whether the job will not run again.
func (j *Job) IsTerminal() bool {
	switch j.status {
	case StatusCompleted:
		return true
	case StatusFailed:
		// A job that never started failed before reaching the queue.
		return !j.HasStarted() || j.AttemptsLeft() == 0
	}
	return false
}

// BeginAttempt moves the job to processing and counts the attempt. Pending
// jobs and failed jobs with attempts left may begin.
func (j *Job) BeginAttempt(now time.Time) error {
	switch j.status {
	case StatusPending:
	case StatusFailed:
		if j.IsTerminal() {
			return ErrAttemptsExhausted
		}
	case StatusProcessing:
		return ErrAlreadyProcessing
	default:
		return shared.NewDomainError(CodeInvalidState, "job is already "+string(j.status), shared.ErrConflict)
	}

	now = now.UTC()
	j.status = StatusProcessing
	j.attemptCount++
	j.startedAt = &now
	j.errorMsg = ""
	j.failedAt = nil
	j.updatedAt = now
	return nil
}

// Complete stores the result. A nil confidence is recorded as 0.
func (j *Job) Complete(output map[string]any, confidence *float64, now time.Time) error {
	if j.status != StatusProcessing {
		return shared.NewDomainError(CodeInvalidState, "can only complete from processing state", shared.ErrConflict)
	}

	now = now.UTC()
	j.status = StatusCompleted
	j.output = output
	j.confidence = NormalizeConfidence(confidence)
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Fail records a failed attempt, or a job that could not be queued.
func (j *Job) Fail(message string, now time.Time) error {
	if j.status != StatusProcessing && j.status != StatusPending {
		return shared.NewDomainError(CodeInvalidState, "can only fail a pending or processing job", shared.ErrConflict)
	}

	now = now.UTC()
	j.status = StatusFailed
	j.errorMsg = message
	j.failedAt = &now
	j.updatedAt = now
	return nil
}

// FailFinal records a failure that must not be retried. The attempt ceiling
// is lowered to the attempts used so far.
func (j *Job) FailFinal(message string, now time.Time) error {
	if err := j.Fail(message, now); err != nil {
		return err
	}
	j.maxAttempts = max(j.attemptCount, 1)
	return nil
}

// Exhaust ends a job whose queue delivery budget ran out before its attempt
// budget did. A failed job keeps its last error message unless message is set.
func (j *Job) Exhaust(message string, now time.Time) error {
	if j.IsTerminal() {
		return shared.NewDomainError(CodeInvalidState, "job is already finished", shared.ErrConflict)
	}
	if j.status == StatusFailed {
		now = now.UTC()
		if message != "" || j.errorMsg == "" {
			j.errorMsg = message
		}
		j.maxAttempts = max(j.attemptCount, 1)
		j.updatedAt = now
		return nil
	}
	return j.FailFinal(message, now)
}

// NormalizeConfidence maps a missing or out of range score into [0,1].
func NormalizeConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return 0
	}
	return math.Min(math.Max(*c, 0), 1)
}

// StatusEvent is published on every transition.
type StatusEvent struct {
	JobID        shared.ID `json:"job_id"`
	AgencyID     shared.ID `json:"agency_id"`
	RequestedBy  shared.ID `json:"requested_by"`
	Kind         Kind      `json:"kind"`
	Status       Status    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	Confidence   float64   `json:"confidence_score"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Final        bool      `json:"final"`
	At           time.Time `json:"at"`
}

// StatusEvent snapshots the job for subscribers.
func (j *Job) StatusEvent() StatusEvent {
	return StatusEvent{
		JobID:        j.id,
		AgencyID:     j.agencyID,
		RequestedBy:  j.requestedBy,
		Kind:         j.kind,
		Status:       j.status,
		AttemptCount: j.attemptCount,
		MaxAttempts:  j.maxAttempts,
		Confidence:   j.confidence,
		ErrorMessage: j.errorMsg,
		Final:        j.IsTerminal(),
		At:           j.updatedAt,
	}
}
