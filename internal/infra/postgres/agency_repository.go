package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// AgencyRepository implements agency.Repository using PostgreSQL.
type AgencyRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewAgencyRepository creates a new AgencyRepository.
func NewAgencyRepository(db *DB, filter *tenancy.Filter) *AgencyRepository {
	return &AgencyRepository{db: db, filter: filter}
}

var _ agency.Repository = (*AgencyRepository)(nil)

// Create persists a new agency. Agencies are created by operators.
func (r *AgencyRepository) Create(ctx context.Context, a *agency.Agency) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agencies (id, name, slug, currency, locale, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID(), a.Name(), a.Slug(), a.Currency(), a.Locale(), a.IsActive(), a.CreatedAt())
	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("AGENCY_SLUG_TAKEN", "agency slug already in use", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create agency: %w", err)
	}
	return nil
}

// GetByID loads an agency. The caller only sees its own agency unless
// unrestricted.
func (r *AgencyRepository) GetByID(ctx context.Context, id shared.ID) (*agency.Agency, error) {
	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, "id")

	stmt, args := q.build("SELECT id, name, slug, currency, locale, active, created_at FROM agencies", nil, "")

	var (
		aid                          shared.ID
		name, slug, currency, locale string
		active                       bool
		createdAt                    time.Time
	)
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&aid, &name, &slug, &currency, &locale, &active, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return agency.Reconstitute(aid, name, slug, currency, locale, active, createdAt), nil
}

// ListActiveIDs returns all active agency ids for background schedulers.
func (r *AgencyRepository) ListActiveIDs(ctx context.Context) ([]shared.ID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM agencies WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agencies: %w", err)
	}
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
