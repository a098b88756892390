package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
)

const unitColumns = `
	id, agency_id, building_id, label, area_sqm, bedrooms, monthly_rent_cents,
	occupied, lease_ends_at, last_maintenance_at, created_at, updated_at`

// UnitRepository implements property.UnitRepository using PostgreSQL.
type UnitRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(db *DB, filter *tenancy.Filter) *UnitRepository {
	return &UnitRepository{db: db, filter: filter}
}

var _ property.UnitRepository = (*UnitRepository)(nil)

// Create persists a new unit.
func (r *UnitRepository) Create(ctx context.Context, u *property.Unit) error {
	if err := r.filter.AssignOnCreate(ctx, u); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID(), u.AgencyID(), u.BuildingID(), u.Label(), u.AreaSqm(), u.Bedrooms(), u.MonthlyRentCents(),
		u.IsOccupied(), nullTime(u.LeaseEndsAt()), nullTime(u.LastMaintenanceAt()), u.CreatedAt(), u.UpdatedAt())
	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("UNIT_LABEL_TAKEN", "a unit with this label already exists in the building", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create unit: %w", err)
	}
	return nil
}

// GetByID loads a unit visible to the caller.
func (r *UnitRepository) GetByID(ctx context.Context, id shared.ID) (*property.Unit, error) {
	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("SELECT "+unitColumns+" FROM units", nil, "")
	u, err := scanUnit(r.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Update saves occupancy, rent and maintenance state.
func (r *UnitRepository) Update(ctx context.Context, u *property.Unit) error {
	stored, err := r.db.storedOwner(ctx, "units", agencyColumn, u.ResourceType(), u.ID())
	if err != nil {
		return err
	}
	if err := r.filter.GuardUpdate(ctx, stored); err != nil {
		return err
	}

	q := newQuery()
	q.Where("id = ?", u.ID())
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build(`
		UPDATE units SET
			label = ?, area_sqm = ?, bedrooms = ?, monthly_rent_cents = ?,
			occupied = ?, lease_ends_at = ?, last_maintenance_at = ?, updated_at = ?`,
		[]any{
			u.Label(), u.AreaSqm(), u.Bedrooms(), u.MonthlyRentCents(),
			u.IsOccupied(), nullTime(u.LeaseEndsAt()), nullTime(u.LastMaintenanceAt()), u.UpdatedAt(),
		}, "")
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	return affectedOrNotFound(res)
}

// ListByBuilding returns the units of one building.
func (r *UnitRepository) ListByBuilding(ctx context.Context, buildingID shared.ID) ([]*property.Unit, error) {
	q := newQuery()
	q.Where("building_id = ?", buildingID)
	r.filter.Apply(ctx, q, agencyColumn)
	stmt, args := q.build("SELECT "+unitColumns+" FROM units", nil, "ORDER BY label")
	return r.query(ctx, stmt, args)
}

// ListAll returns every unit visible to the caller.
func (r *UnitRepository) ListAll(ctx context.Context) ([]*property.Unit, error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	stmt, args := q.build("SELECT "+unitColumns+" FROM units", nil, "ORDER BY building_id, label")
	return r.query(ctx, stmt, args)
}

func (r *UnitRepository) query(ctx context.Context, stmt string, args []any) ([]*property.Unit, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var out []*property.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUnit(row rowScanner) (*property.Unit, error) {
	var (
		s                 property.UnitState
		leaseEndsAt       sql.NullTime
		lastMaintenanceAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.AgencyID, &s.BuildingID, &s.Label, &s.AreaSqm, &s.Bedrooms, &s.MonthlyRentCents,
		&s.Occupied, &leaseEndsAt, &lastMaintenanceAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LeaseEndsAt = nullTimeValue(leaseEndsAt)
	s.LastMaintenanceAt = nullTimeValue(lastMaintenanceAt)
	return property.ReconstituteUnit(s), nil
}
