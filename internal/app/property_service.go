package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// PropertyService manages buildings and their units.
type PropertyService struct {
	buildings property.BuildingRepository
	units     property.UnitRepository
	auditSvc  *AuditService
	logger    *logger.Logger
}

// NewPropertyService creates a new PropertyService.
func NewPropertyService(buildings property.BuildingRepository, units property.UnitRepository, log *logger.Logger) *PropertyService {
	return &PropertyService{
		buildings: buildings,
		units:     units,
		logger:    log.With("service", "property"),
	}
}

// SetAuditService enables audit entries for deletions.
func (s *PropertyService) SetAuditService(a *AuditService) {
	s.auditSvc = a
}

// BuildingInput creates or replaces a building.
type BuildingInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	Address   string `json:"address" validate:"max=500"`
	City      string `json:"city" validate:"max=120"`
	YearBuilt int    `json:"year_built" validate:"omitempty,min=1800,max=2100"`

	// AgencyID targets another agency on create. Unrestricted principals only.
	AgencyID string `json:"agency_id" validate:"omitempty,uuid"`
}

// CreateBuilding creates a building in the caller's agency.
func (s *PropertyService) CreateBuilding(ctx context.Context, in BuildingInput) (*property.Building, error) {
	b, err := property.NewBuilding(in.Name, in.Address, in.City, in.YearBuilt)
	if err != nil {
		return nil, err
	}
	if in.AgencyID != "" {
		ids, err := sharedIDs(in.AgencyID)
		if err != nil {
			return nil, err
		}
		b.AssignAgency(ids[0])
	}
	if err := s.buildings.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("building created", "building_id", b.ID().String(), "agency_id", b.AgencyID().String())
	return b, nil
}

// GetBuilding returns a building visible to the caller.
func (s *PropertyService) GetBuilding(ctx context.Context, id string) (*property.Building, error) {
	ids, err := sharedIDs(id)
	if err != nil {
		return nil, err
	}
	return s.buildings.GetByID(ctx, ids[0])
}

// ReplaceBuilding overwrites a building's details. The write is guarded
// against the stored owner, so a building of another agency fails with a
// cross-tenant error rather than not found.
func (s *PropertyService) ReplaceBuilding(ctx context.Context, id string, in BuildingInput) (*property.Building, error) {
	ids, err := sharedIDs(id)
	if err != nil {
		return nil, err
	}

	b := property.ReconstituteBuilding(ids[0], shared.ID{}, "", "", "", 0, time.Time{}, time.Time{})
	if err := b.UpdateDetails(in.Name, in.Address, in.City, in.YearBuilt); err != nil {
		return nil, err
	}
	if err := s.buildings.Update(ctx, b); err != nil {
		return nil, err
	}
	return s.buildings.GetByID(ctx, ids[0])
}

// DeleteBuilding deletes a building and its units.
func (s *PropertyService) DeleteBuilding(ctx context.Context, id string) error {
	ids, err := sharedIDs(id)
	if err != nil {
		return err
	}

	// Read for the audit entry only. A foreign building is hidden here and
	// rejected by the delete guard below. Any other read error stops the
	// delete so it never happens without its audit entry.
	b, err := s.buildings.GetByID(ctx, ids[0])
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		s.logger.WithContext(ctx).Error("failed to load building for delete", "building_id", ids[0].String(), "error", err)
		return fmt.Errorf("load building %s: %w", ids[0], err)
	}

	if err := s.buildings.Delete(ctx, ids[0]); err != nil {
		return err
	}
	if b != nil && s.auditSvc != nil {
		s.auditSvc.LogBuildingDeleted(ctx, b)
	}
	return nil
}

// ListBuildingsInput filters building listings.
type ListBuildingsInput struct {
	City    string
	Search  string
	Sort    string
	Page    int
	PerPage int
}

// ListBuildings lists buildings visible to the caller.
func (s *PropertyService) ListBuildings(ctx context.Context, in ListBuildingsInput) (pagination.Result[*property.Building], error) {
	return s.buildings.List(ctx, property.BuildingFilter{
		City:   in.City,
		Search: in.Search,
		Sort:   in.Sort,
	}, pagination.New(in.Page, in.PerPage))
}

// CreateUnitInput creates a unit.
type CreateUnitInput struct {
	Label            string  `json:"label" validate:"required,max=50"`
	AreaSqm          float64 `json:"area_sqm" validate:"required,gt=0"`
	Bedrooms         int     `json:"bedrooms" validate:"min=0,max=50"`
	MonthlyRentCents int64   `json:"monthly_rent_cents" validate:"min=0"`
}

// CreateUnit adds a unit to a building visible to the caller. The unit
// inherits the building's agency.
func (s *PropertyService) CreateUnit(ctx context.Context, buildingID string, in CreateUnitInput) (*property.Unit, error) {
	b, err := s.GetBuilding(ctx, buildingID)
	if err != nil {
		return nil, err
	}

	u, err := property.NewUnit(b.ID(), in.Label, in.AreaSqm, in.Bedrooms, in.MonthlyRentCents)
	if err != nil {
		return nil, err
	}
	u.AssignAgency(b.AgencyID())

	if err := s.units.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUnits lists the units of a building visible to the caller.
func (s *PropertyService) ListUnits(ctx context.Context, buildingID string) ([]*property.Unit, error) {
	b, err := s.GetBuilding(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	return s.units.ListByBuilding(ctx, b.ID())
}

// UpdateUnitInput changes occupancy or maintenance of a unit. Nil fields are
// left unchanged.
type UpdateUnitInput struct {
	Occupied          *bool      `json:"occupied"`
	LeaseEndsAt       *time.Time `json:"lease_ends_at"`
	MonthlyRentCents  *int64     `json:"monthly_rent_cents" validate:"omitempty,min=0"`
	LastMaintenanceAt *time.Time `json:"last_maintenance_at"`
}

// UpdateUnit applies in to a unit visible to the caller.
func (s *PropertyService) UpdateUnit(ctx context.Context, unitID string, in UpdateUnitInput) (*property.Unit, error) {
	ids, err := sharedIDs(unitID)
	if err != nil {
		return nil, err
	}
	u, err := s.units.GetByID(ctx, ids[0])
	if err != nil {
		return nil, err
	}

	switch {
	case in.Occupied != nil && !*in.Occupied:
		u.Vacate()
	case in.Occupied != nil || (u.IsOccupied() && in.LeaseEndsAt != nil):
		leaseEnd := time.Now().UTC().AddDate(1, 0, 0)
		if in.LeaseEndsAt != nil {
			leaseEnd = *in.LeaseEndsAt
		} else if u.LeaseEndsAt() != nil {
			leaseEnd = *u.LeaseEndsAt()
		}
		if err := u.Lease(leaseEnd, u.MonthlyRentCents()); err != nil {
			return nil, err
		}
	}
	if in.MonthlyRentCents != nil {
		if err := u.SetRent(*in.MonthlyRentCents); err != nil {
			return nil, err
		}
	}
	if in.LastMaintenanceAt != nil {
		u.RecordMaintenance(*in.LastMaintenanceAt)
	}

	if err := s.units.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
