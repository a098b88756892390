package tenancy

import (
	"context"

	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

// Query is the part of a SQL builder the filter needs. Conditions use "?"
// placeholders that the builder rebinds.
type Query interface {
	Where(cond string, args ...any)
}

// Scoped is a persisted record owned by a single agency.
type Scoped interface {
	ID() shared.ID
	AgencyID() shared.ID
	AssignAgency(agencyID shared.ID)
	ResourceType() string
}

// AuditSink records blocked cross-tenant writes.
type AuditSink interface {
	RecordCrossTenantAttempt(ctx context.Context, violation *CrossTenantAccessError) error
}

// Filter applies agency scoping to repository operations.
type Filter struct {
	audit  AuditSink
	logger *logger.Logger
}

// NewFilter creates a Filter. audit may be nil, violations are then only logged.
func NewFilter(audit AuditSink, log *logger.Logger) *Filter {
	return &Filter{
		audit:  audit,
		logger: log.With("component", "tenancy"),
	}
}

// SetAuditSink wires the audit sink after construction. The audit service
// depends on a repository that itself needs a Filter.
func (f *Filter) SetAuditSink(audit AuditSink) {
	f.audit = audit
}

// Apply restricts q to the scope of ctx and returns the scope used.
//
//   - agency scope adds "column = ?"
//   - unrestricted principals leave q untouched
//   - a denied scope adds "FALSE" so the query matches zero rows
func (f *Filter) Apply(ctx context.Context, q Query, column string) Scope {
	scope := ScopeFor(ctx)
	scope.Apply(q, column)
	return scope
}

// Apply restricts q to this scope.
func (s Scope) Apply(q Query, column string) {
	switch s.kind {
	case ScopeAll:
	case ScopeAgency:
		q.Where(column+" = ?", s.agencyID)
	default:
		q.Where("FALSE")
	}
}

// AssignOnCreate sets the record's agency from the scope of ctx when unset.
// A record that already names another agency is rejected unless the
// principal is unrestricted.
func (f *Filter) AssignOnCreate(ctx context.Context, rec Scoped) error {
	scope := ScopeFor(ctx)

	switch scope.kind {
	case ScopeDenied:
		return ErrNoTenantContext
	case ScopeAll:
		if rec.AgencyID().IsZero() {
			if scope.agencyID.IsZero() {
				return shared.NewDomainError("AGENCY_REQUIRED", "agency_id is required for unrestricted principals", shared.ErrValidation)
			}
			rec.AssignAgency(scope.agencyID)
		}
		return nil
	}

	if rec.AgencyID().IsZero() {
		rec.AssignAgency(scope.agencyID)
		return nil
	}
	if !rec.AgencyID().Equals(scope.agencyID) {
		return f.violation(ctx, scope, "create", rec, rec.AgencyID())
	}
	return nil
}

// GuardUpdate checks that the stored owner of rec matches the scope of ctx.
// rec must carry the agency as persisted, not as submitted by the caller.
func (f *Filter) GuardUpdate(ctx context.Context, rec Scoped) error {
	return f.guard(ctx, "update", rec)
}

// GuardDelete is GuardUpdate for deletions.
func (f *Filter) GuardDelete(ctx context.Context, rec Scoped) error {
	return f.guard(ctx, "delete", rec)
}

func (f *Filter) guard(ctx context.Context, op string, rec Scoped) error {
	scope := ScopeFor(ctx)

	switch scope.kind {
	case ScopeAll:
		return nil
	case ScopeDenied:
		return ErrNoTenantContext
	}

	if scope.Allows(rec.AgencyID()) {
		return nil
	}
	return f.violation(ctx, scope, op, rec, rec.AgencyID())
}

func (f *Filter) violation(ctx context.Context, scope Scope, op string, rec Scoped, recordAgency shared.ID) error {
	v := &CrossTenantAccessError{
		Op:                op,
		Resource:          rec.ResourceType(),
		ResourceID:        rec.ID(),
		PrincipalID:       scope.principal.UserID,
		PrincipalAgencyID: scope.agencyID,
		RecordAgencyID:    recordAgency,
	}

	metrics.CrossTenantBlocked.WithLabelValues(v.Resource, op).Inc()

	f.logger.WithContext(ctx).Warn(logger.AuditPrefix+" cross-tenant write blocked",
		"op", op,
		"resource", v.Resource,
		"resource_id", v.ResourceID.String(),
		"principal_id", v.PrincipalID.String(),
		"principal_agency_id", v.PrincipalAgencyID.String(),
		"record_agency_id", v.RecordAgencyID.String(),
		"scope_source", string(scope.source),
	)

	if f.audit != nil {
		if err := f.audit.RecordCrossTenantAttempt(ctx, v); err != nil {
			f.logger.Error("failed to persist cross-tenant audit entry", "error", err)
		}
	}
	return v
}
