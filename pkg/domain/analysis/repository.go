package analysis

import (
	"context"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

// ListFilter narrows job listings.
type ListFilter struct {
	Kinds    []Kind
	Statuses []Status
	Sort     string
}

// Ownership is the owner of a job, read without tenant scoping.
type Ownership struct {
	JobID    shared.ID
	AgencyID shared.ID
}

// Repository persists analysis jobs. All methods except OwnerOf and
// FindStuck apply the tenancy scope of ctx.
type Repository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id shared.ID) (*Job, error)
	Update(ctx context.Context, job *Job) error
	List(ctx context.Context, filter ListFilter, page pagination.Pagination) (pagination.Result[*Job], error)

	// BeginAttempt locks the job row, calls Job.BeginAttempt and saves it.
	BeginAttempt(ctx context.Context, id shared.ID, now time.Time) (*Job, error)

	// OwnerOf returns the agency that owns a job. It only reveals the owner
	// and exists so background workers can scope themselves to it.
	OwnerOf(ctx context.Context, id shared.ID) (shared.ID, error)

	// FindStuck lists jobs in processing that started before the cutoff.
	FindStuck(ctx context.Context, startedBefore time.Time, limit int) ([]Ownership, error)
}
