package property

import (
	"context"

	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

// BuildingFilter narrows building listings.
type BuildingFilter struct {
	City   string
	Search string
	Sort   string
}

// BuildingRepository persists buildings within the tenancy scope of ctx.
type BuildingRepository interface {
	Create(ctx context.Context, b *Building) error
	GetByID(ctx context.Context, id shared.ID) (*Building, error)
	Update(ctx context.Context, b *Building) error
	Delete(ctx context.Context, id shared.ID) error
	List(ctx context.Context, filter BuildingFilter, page pagination.Pagination) (pagination.Result[*Building], error)
	ListAll(ctx context.Context) ([]*Building, error)
}

// UnitRepository persists units within the tenancy scope of ctx.
type UnitRepository interface {
	Create(ctx context.Context, u *Unit) error
	GetByID(ctx context.Context, id shared.ID) (*Unit, error)
	Update(ctx context.Context, u *Unit) error
	ListByBuilding(ctx context.Context, buildingID shared.ID) ([]*Unit, error)
	ListAll(ctx context.Context) ([]*Unit, error)
}
