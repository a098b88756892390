package analysis

import (
	"errors"
	"fmt"

	"github.com/agencyhub/api/pkg/domain/shared"
)

const (
	CodeUnsupportedKind = "UNSUPPORTED_ANALYSIS_KIND"
	CodeInvalidState    = "INVALID_JOB_STATE"
)

var (
	// ErrUnsupportedKind is returned at submission for unknown kinds.
	ErrUnsupportedKind = fmt.Errorf("unsupported analysis kind: %w", shared.ErrValidation)

	// ErrAttemptsExhausted is returned when a job has no attempts left.
	ErrAttemptsExhausted = errors.New("analysis attempts exhausted")

	// ErrAlreadyProcessing is returned when another worker holds the job.
	ErrAlreadyProcessing = errors.New("analysis job is already being processed")
)

// ExecutionError wraps an analyzer failure with the attempt it happened on.
type ExecutionError struct {
	JobID   shared.ID
	Kind    Kind
	Attempt int
	Final   bool
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("analysis %s (%s) attempt %d failed: %v", e.JobID, e.Kind, e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError reports whether err is an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
