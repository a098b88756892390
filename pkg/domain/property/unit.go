package property

import (
	"strings"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// Unit is a rentable apartment or office inside a building.
type Unit struct {
	id                shared.ID
	agencyID          shared.ID
	buildingID        shared.ID
	label             string
	areaSqm           float64
	bedrooms          int
	monthlyRentCents  int64
	occupied          bool
	leaseEndsAt       *time.Time
	lastMaintenanceAt *time.Time
	createdAt         time.Time
	updatedAt         time.Time
}

// NewUnit creates a vacant unit in a building.
func NewUnit(buildingID shared.ID, label string, areaSqm float64, bedrooms int, monthlyRentCents int64) (*Unit, error) {
	label = strings.TrimSpace(label)
	switch {
	case buildingID.IsZero():
		return nil, shared.NewDomainError("VALIDATION", "building_id is required", shared.ErrValidation)
	case label == "":
		return nil, shared.NewDomainError("VALIDATION", "unit label is required", shared.ErrValidation)
	case areaSqm <= 0:
		return nil, shared.NewDomainError("VALIDATION", "area must be positive", shared.ErrValidation)
	case bedrooms < 0 || monthlyRentCents < 0:
		return nil, shared.NewDomainError("VALIDATION", "bedrooms and rent cannot be negative", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Unit{
		id:               shared.NewID(),
		buildingID:       buildingID,
		label:            label,
		areaSqm:          areaSqm,
		bedrooms:         bedrooms,
		monthlyRentCents: monthlyRentCents,
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// UnitState is the persisted form of a Unit.
type UnitState struct {
	ID                shared.ID
	AgencyID          shared.ID
	BuildingID        shared.ID
	Label             string
	AreaSqm           float64
	Bedrooms          int
	MonthlyRentCents  int64
	Occupied          bool
	LeaseEndsAt       *time.Time
	LastMaintenanceAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReconstituteUnit rebuilds a Unit from storage.
func ReconstituteUnit(s UnitState) *Unit {
	return &Unit{
		id:                s.ID,
		agencyID:          s.AgencyID,
		buildingID:        s.BuildingID,
		label:             s.Label,
		areaSqm:           s.AreaSqm,
		bedrooms:          s.Bedrooms,
		monthlyRentCents:  s.MonthlyRentCents,
		occupied:          s.Occupied,
		leaseEndsAt:       s.LeaseEndsAt,
		lastMaintenanceAt: s.LastMaintenanceAt,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
}

func (u *Unit) ID() shared.ID                 { return u.id }
func (u *Unit) AgencyID() shared.ID           { return u.agencyID }
func (u *Unit) AssignAgency(id shared.ID)     { u.agencyID = id }
func (u *Unit) ResourceType() string          { return "unit" }
func (u *Unit) BuildingID() shared.ID         { return u.buildingID }
func (u *Unit) Label() string                 { return u.label }
func (u *Unit) AreaSqm() float64              { return u.areaSqm }
func (u *Unit) Bedrooms() int                 { return u.bedrooms }
func (u *Unit) MonthlyRentCents() int64       { return u.monthlyRentCents }
func (u *Unit) IsOccupied() bool              { return u.occupied }
func (u *Unit) LeaseEndsAt() *time.Time       { return u.leaseEndsAt }
func (u *Unit) LastMaintenanceAt() *time.Time { return u.lastMaintenanceAt }
func (u *Unit) CreatedAt() time.Time          { return u.createdAt }
func (u *Unit) UpdatedAt() time.Time          { return u.updatedAt }

// RentPerSqm returns the monthly rent per square metre in cents.
func (u *Unit) RentPerSqm() float64 {
	if u.areaSqm <= 0 {
		return 0
	}
	return float64(u.monthlyRentCents) / u.areaSqm
}

// Lease marks the unit occupied until leaseEnd.
func (u *Unit) Lease(leaseEnd time.Time, monthlyRentCents int64) error {
	if monthlyRentCents < 0 {
		return shared.NewDomainError("VALIDATION", "rent cannot be negative", shared.ErrValidation)
	}
	end := leaseEnd.UTC()
	u.occupied = true
	u.leaseEndsAt = &end
	u.monthlyRentCents = monthlyRentCents
	u.updatedAt = time.Now().UTC()
	return nil
}

// SetRent changes the monthly rent.
func (u *Unit) SetRent(monthlyRentCents int64) error {
	if monthlyRentCents < 0 {
		return shared.NewDomainError("VALIDATION", "rent cannot be negative", shared.ErrValidation)
	}
	u.monthlyRentCents = monthlyRentCents
	u.updatedAt = time.Now().UTC()
	return nil
}

// Vacate marks the unit empty.
func (u *Unit) Vacate() {
	u.occupied = false
	u.leaseEndsAt = nil
	u.updatedAt = time.Now().UTC()
}

// RecordMaintenance stamps the last maintenance visit.
func (u *Unit) RecordMaintenance(at time.Time) {
	at = at.UTC()
	u.lastMaintenanceAt = &at
	u.updatedAt = time.Now().UTC()
}
