package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// ScopeKind is the shape of the visibility granted to a context.
type ScopeKind int

const (
	// ScopeDenied matches no rows. It is the zero value.
	ScopeDenied ScopeKind = iota
	// ScopeAgency matches rows of a single agency.
	ScopeAgency
	// ScopeAll matches rows of every agency.
	ScopeAll
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeAgency:
		return "agency"
	case ScopeAll:
		return "all"
	default:
		return "denied"
	}
}

// Source records where a scope came from.
type Source string

const (
	SourceNone      Source = "none"
	SourcePrincipal Source = "principal"
	SourceOverride  Source = "override"
)

// Scope is the resolved visibility of a context.
type Scope struct {
	kind      ScopeKind
	agencyID  shared.ID
	source    Source
	principal Principal
}

func (s Scope) Kind() ScopeKind      { return s.kind }
func (s Scope) AgencyID() shared.ID  { return s.agencyID }
func (s Scope) Source() Source       { return s.source }
func (s Scope) Principal() Principal { return s.principal }

// Allows reports whether a record owned by agencyID is visible.
func (s Scope) Allows(agencyID shared.ID) bool {
	switch s.kind {
	case ScopeAll:
		return true
	case ScopeAgency:
		return !agencyID.IsZero() && s.agencyID.Equals(agencyID)
	default:
		return false
	}
}

// ErrTenantRequired is returned when WithTenant is called without an agency.
var ErrTenantRequired = shared.NewDomainError("TENANT_REQUIRED", "an agency id is required", shared.ErrValidation)

// ErrNoTenantContext is returned by writes attempted without any scope.
var ErrNoTenantContext = shared.NewDomainError("NO_TENANT_CONTEXT", "no agency context for this operation", shared.ErrUnauthorized)

type overrideKey struct{}

// WithTenant scopes ctx to a single agency without an authenticated principal.
//
// It exists for trusted internal code such as queue workers and schedulers and
// must not be reachable from request handlers. It never widens to all agencies:
// a zero agency id is rejected.
func WithTenant(ctx context.Context, agencyID shared.ID) (context.Context, error) {
	if agencyID.IsZero() {
		return ctx, ErrTenantRequired
	}
	return context.WithValue(ctx, overrideKey{}, agencyID), nil
}

// ScopeFor resolves the scope of ctx. An override set with WithTenant wins over
// the principal. A context with neither is denied.
func ScopeFor(ctx context.Context) Scope {
	if id, ok := ctx.Value(overrideKey{}).(shared.ID); ok && !id.IsZero() {
		return Scope{kind: ScopeAgency, agencyID: id, source: SourceOverride}
	}

	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Scope{kind: ScopeDenied, source: SourceNone}
	}
	if p.IsUnrestricted() {
		return Scope{kind: ScopeAll, agencyID: p.AgencyID, source: SourcePrincipal, principal: p}
	}
	if p.AgencyID.IsZero() {
		return Scope{kind: ScopeDenied, source: SourcePrincipal, principal: p}
	}
	return Scope{kind: ScopeAgency, agencyID: p.AgencyID, source: SourcePrincipal, principal: p}
}

// CrossTenantAccessError is returned when a write targets a record owned by
// another agency.
type CrossTenantAccessError struct {
	Op                string
	Resource          string
	ResourceID        shared.ID
	PrincipalID       shared.ID
	PrincipalAgencyID shared.ID
	RecordAgencyID    shared.ID
}

func (e *CrossTenantAccessError) Error() string {
	return fmt.Sprintf("cross-tenant %s on %s %s: principal agency %s, record agency %s",
		e.Op, e.Resource, e.ResourceID, e.PrincipalAgencyID, e.RecordAgencyID)
}

// Unwrap lets callers match shared.ErrForbidden.
func (e *CrossTenantAccessError) Unwrap() error {
	return shared.ErrForbidden
}

// IsCrossTenant reports whether err is a CrossTenantAccessError.
func IsCrossTenant(err error) bool {
	var cte *CrossTenantAccessError
	return errors.As(err, &cte)
}
