// Package tenancy isolates agency data from other agencies.
//
// Every repository that stores agency owned records asks a Filter for the
// scope of the current context before it reads or writes. The scope comes
// from the authenticated Principal, or from an explicit WithTenant override
// set by background code. With neither present the scope is denied and
// queries match nothing.
package tenancy

import (
	"context"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// Principal is the actor an operation runs on behalf of.
type Principal struct {
	UserID   shared.ID
	AgencyID shared.ID

	// Unrestricted principals (platform super admins) see every agency.
	Unrestricted bool
}

// IsUnrestricted reports whether the principal bypasses agency filtering.
func (p Principal) IsUnrestricted() bool {
	return p.Unrestricted
}

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
