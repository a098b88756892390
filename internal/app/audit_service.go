package app

import (
	"context"
	"fmt"
	"time"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// AuditService records and lists audit entries. It is the audit sink of the
// tenancy filter.
type AuditService struct {
	repo   audit.Repository
	logger *logger.Logger
}

var _ tenancy.AuditSink = (*AuditService)(nil)

// NewAuditService creates a new AuditService.
func NewAuditService(repo audit.Repository, log *logger.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: log.With("service", "audit"),
	}
}

// Record persists e, stamping the acting user and request id from ctx when unset.
func (s *AuditService) Record(ctx context.Context, e *audit.Entry) error {
	if e.ActorID().IsZero() {
		if p, ok := tenancy.PrincipalFrom(ctx); ok {
			e.WithActor(p.UserID)
		}
	}
	if e.RequestID() == "" {
		if rid, ok := ctx.Value(logger.ContextKeyRequestID).(string); ok {
			e.WithRequestID(rid)
		}
	}

	if err := s.repo.Create(ctx, e); err != nil {
		s.logger.Error("failed to persist audit entry",
			"action", string(e.Action()),
			"resource_type", e.ResourceType(),
			"resource_id", e.ResourceID().String(),
			"error", err,
		)
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// RecordCrossTenantAttempt implements tenancy.AuditSink. The entry is visible
// to the agency of the acting principal.
func (s *AuditService) RecordCrossTenantAttempt(ctx context.Context, v *tenancy.CrossTenantAccessError) error {
	e := audit.NewEntry(v.PrincipalAgencyID, audit.ActionCrossTenantBlocked, v.Resource, v.ResourceID).
		WithActor(v.PrincipalID).
		WithResourceAgency(v.RecordAgencyID).
		WithMessage(v.Op + " blocked: record belongs to another agency")
	return s.Record(ctx, e)
}

// LogAnalysisSubmitted records a submission. Failures are only logged.
func (s *AuditService) LogAnalysisSubmitted(ctx context.Context, job *analysis.Job) {
	e := audit.NewEntry(job.AgencyID(), audit.ActionAnalysisSubmitted, analysis.ResourceType, job.ID()).
		WithMessage("kind " + string(job.Kind()))
	if !job.RequestedBy().IsZero() {
		e.WithActor(job.RequestedBy())
	}
	_ = s.Record(ctx, e)
}

// LogAnalysisFailed records a job that will not be retried.
func (s *AuditService) LogAnalysisFailed(ctx context.Context, job *analysis.Job) {
	msg := fmt.Sprintf("kind %s failed after %d attempt(s): %s", job.Kind(), job.AttemptCount(), job.ErrorMessage())
	e := audit.NewEntry(job.AgencyID(), audit.ActionAnalysisFailed, analysis.ResourceType, job.ID()).
		WithMessage(msg)
	_ = s.Record(ctx, e)
}

// LogBuildingDeleted records a building deletion.
func (s *AuditService) LogBuildingDeleted(ctx context.Context, b *property.Building) {
	e := audit.NewEntry(b.AgencyID(), audit.ActionBuildingDeleted, b.ResourceType(), b.ID()).
		WithMessage(b.Name())
	_ = s.Record(ctx, e)
}

// ListAuditLogsInput filters audit listings.
type ListAuditLogsInput struct {
	Actions []string
	Since   *time.Time
	Page    int
	PerPage int
}

// List returns entries visible to the caller.
func (s *AuditService) List(ctx context.Context, in ListAuditLogsInput) (pagination.Result[*audit.Entry], error) {
	filter := audit.Filter{Since: in.Since}
	for _, a := range in.Actions {
		filter.Actions = append(filter.Actions, audit.Action(a))
	}
	return s.repo.List(ctx, filter, pagination.New(in.Page, in.PerPage))
}

// PurgeBefore deletes old entries across agencies. Retention use only.
func (s *AuditService) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	n, err := s.repo.PurgeBefore(ctx, cutoff, limit)
	if err != nil {
		return n, fmt.Errorf("purge audit entries: %w", err)
	}
	return n, nil
}

// sharedIDs parses ids, failing with a validation error on the first bad one.
func sharedIDs(ids ...string) ([]shared.ID, error) {
	out := make([]shared.ID, 0, len(ids))
	for _, raw := range ids {
		id, err := shared.IDFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid id %q", shared.ErrValidation, raw)
		}
		out = append(out, id)
	}
	return out, nil
}
