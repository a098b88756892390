package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

const buildingColumns = `id, agency_id, name, address, city, year_built, created_at, updated_at`

var buildingSorts = map[string]string{
	"name":       "name",
	"city":       "city",
	"year_built": "year_built",
	"created_at": "created_at",
}

// BuildingRepository implements property.BuildingRepository using PostgreSQL.
type BuildingRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewBuildingRepository creates a new BuildingRepository.
func NewBuildingRepository(db *DB, filter *tenancy.Filter) *BuildingRepository {
	return &BuildingRepository{db: db, filter: filter}
}

var _ property.BuildingRepository = (*BuildingRepository)(nil)

// Create persists a new building.
func (r *BuildingRepository) Create(ctx context.Context, b *property.Building) error {
	if err := r.filter.AssignOnCreate(ctx, b); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO buildings (`+buildingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID(), b.AgencyID(), b.Name(), nullString(b.Address()), nullString(b.City()),
		nullInt(b.YearBuilt()), b.CreatedAt(), b.UpdatedAt())
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create building: %w", err)
	}
	return nil
}

// GetByID loads a building visible to the caller.
func (r *BuildingRepository) GetByID(ctx context.Context, id shared.ID) (*property.Building, error) {
	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("SELECT "+buildingColumns+" FROM buildings", nil, "")
	b, err := scanBuilding(r.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Update saves building details.
func (r *BuildingRepository) Update(ctx context.Context, b *property.Building) error {
	stored, err := r.db.storedOwner(ctx, "buildings", agencyColumn, b.ResourceType(), b.ID())
	if err != nil {
		return err
	}
	if err := r.filter.GuardUpdate(ctx, stored); err != nil {
		return err
	}

	q := newQuery()
	q.Where("id = ?", b.ID())
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("UPDATE buildings SET name = ?, address = ?, city = ?, year_built = ?, updated_at = ?",
		[]any{b.Name(), nullString(b.Address()), nullString(b.City()), nullInt(b.YearBuilt()), b.UpdatedAt()}, "")
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update building: %w", err)
	}
	return affectedOrNotFound(res)
}

// Delete removes a building and, by cascade, its units.
func (r *BuildingRepository) Delete(ctx context.Context, id shared.ID) error {
	stored, err := r.db.storedOwner(ctx, "buildings", agencyColumn, "building", id)
	if err != nil {
		return err
	}
	if err := r.filter.GuardDelete(ctx, stored); err != nil {
		return err
	}

	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("DELETE FROM buildings", nil, "")
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.NewDomainError("BUILDING_IN_USE", "building has invoices and cannot be deleted", shared.ErrConflict)
		}
		return fmt.Errorf("failed to delete building: %w", err)
	}
	return affectedOrNotFound(res)
}

// List returns a page of buildings visible to the caller.
func (r *BuildingRepository) List(ctx context.Context, filter property.BuildingFilter, page pagination.Pagination) (pagination.Result[*property.Building], error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	q.whereIf(filter.City != "", "city ILIKE ?", escapeLikePattern(filter.City))
	q.whereIf(filter.Search != "", "(name ILIKE ? OR address ILIKE ?)", likeContains(filter.Search), likeContains(filter.Search))

	var total int64
	countStmt, countArgs := q.build("SELECT COUNT(*) FROM buildings", nil, "")
	if err := r.db.QueryRowContext(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return pagination.Result[*property.Building]{}, fmt.Errorf("failed to count buildings: %w", err)
	}

	order := pagination.OrderBy(filter.Sort, buildingSorts, "name ASC")
	stmt, args := q.build("SELECT "+buildingColumns+" FROM buildings", nil,
		"ORDER BY "+order+" LIMIT ? OFFSET ?", page.Limit(), page.Offset())
	buildings, err := r.query(ctx, stmt, args)
	if err != nil {
		return pagination.Result[*property.Building]{}, err
	}
	return pagination.NewResult(buildings, total, page), nil
}

// ListAll returns every building visible to the caller.
func (r *BuildingRepository) ListAll(ctx context.Context) ([]*property.Building, error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	stmt, args := q.build("SELECT "+buildingColumns+" FROM buildings", nil, "ORDER BY name")
	return r.query(ctx, stmt, args)
}

func (r *BuildingRepository) query(ctx context.Context, stmt string, args []any) ([]*property.Building, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buildings: %w", err)
	}
	defer rows.Close()

	var out []*property.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBuilding(row rowScanner) (*property.Building, error) {
	var (
		id, agencyID  shared.ID
		name          string
		address, city sql.NullString
		yearBuilt     sql.NullInt64
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&id, &agencyID, &name, &address, &city, &yearBuilt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return property.ReconstituteBuilding(id, agencyID, name, nullStringValue(address), nullStringValue(city),
		int(yearBuilt.Int64), createdAt, updatedAt), nil
}
