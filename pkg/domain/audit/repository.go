package audit

import (
	"context"
	"time"

	"github.com/agencyhub/api/pkg/pagination"
)

// Filter narrows audit listings.
type Filter struct {
	Actions []Action
	Since   *time.Time
}

// Repository persists audit entries. Create is never scoped so that blocked
// writes are recorded regardless of the caller. List applies tenancy scope.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*Entry], error)

	// PurgeBefore deletes up to limit entries created before cutoff across
	// all agencies. Retention use only.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
