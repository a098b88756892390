// Package property provides buildings and rentable units.
package property

import (
	"strings"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// Building is a managed property. It is a scoped record.
type Building struct {
	id        shared.ID
	agencyID  shared.ID
	name      string
	address   string
	city      string
	yearBuilt int
	createdAt time.Time
	updatedAt time.Time
}

// NewBuilding creates a building. The agency is assigned on create.
func NewBuilding(name, address, city string, yearBuilt int) (*Building, error) {
	b := &Building{id: shared.NewID()}
	if err := b.UpdateDetails(name, address, city, yearBuilt); err != nil {
		return nil, err
	}
	b.createdAt = b.updatedAt
	return b, nil
}

// ReconstituteBuilding rebuilds a Building from storage.
func ReconstituteBuilding(id, agencyID shared.ID, name, address, city string, yearBuilt int, createdAt, updatedAt time.Time) *Building {
	return &Building{
		id:        id,
		agencyID:  agencyID,
		name:      name,
		address:   address,
		city:      city,
		yearBuilt: yearBuilt,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (b *Building) ID() shared.ID             { return b.id }
func (b *Building) AgencyID() shared.ID       { return b.agencyID }
func (b *Building) AssignAgency(id shared.ID) { b.agencyID = id }
func (b *Building) ResourceType() string      { return "building" }
func (b *Building) Name() string              { return b.name }
func (b *Building) Address() string           { return b.address }
func (b *Building) City() string              { return b.city }
func (b *Building) YearBuilt() int            { return b.yearBuilt }
func (b *Building) CreatedAt() time.Time      { return b.createdAt }
func (b *Building) UpdatedAt() time.Time      { return b.updatedAt }

// Age returns the age of the building in years at t, or 0 when unknown.
func (b *Building) Age(t time.Time) int {
	if b.yearBuilt == 0 || b.yearBuilt > t.Year() {
		return 0
	}
	return t.Year() - b.yearBuilt
}

// UpdateDetails replaces the descriptive fields.
func (b *Building) UpdateDetails(name, address, city string, yearBuilt int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return shared.NewDomainError("VALIDATION", "building name is required", shared.ErrValidation)
	}
	if yearBuilt != 0 && (yearBuilt < 1800 || yearBuilt > time.Now().Year()+5) {
		return shared.NewDomainError("VALIDATION", "year_built is out of range", shared.ErrValidation)
	}
	b.name = name
	b.address = strings.TrimSpace(address)
	b.city = strings.TrimSpace(city)
	b.yearBuilt = yearBuilt
	b.updatedAt = time.Now().UTC()
	return nil
}
