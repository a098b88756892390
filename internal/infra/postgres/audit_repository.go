package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/pagination"
)

const auditColumns = `
	id, agency_id, actor_id, action, severity, resource_type, resource_id,
	resource_agency_id, message, request_id, created_at`

// AuditRepository implements audit.Repository using PostgreSQL.
type AuditRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB, filter *tenancy.Filter) *AuditRepository {
	return &AuditRepository{db: db, filter: filter}
}

var _ audit.Repository = (*AuditRepository)(nil)

// Create appends an entry. Entries are written without tenancy scope.
func (r *AuditRepository) Create(ctx context.Context, e *audit.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID(), nullIDValue(e.AgencyID()), nullIDValue(e.ActorID()), string(e.Action()), string(e.Severity()),
		e.ResourceType(), nullIDValue(e.ResourceID()), nullIDValue(e.ResourceAgencyID()),
		nullString(e.Message()), nullString(e.RequestID()), e.CreatedAt())
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// List returns a page of the caller's audit entries, newest first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter, page pagination.Pagination) (pagination.Result[*audit.Entry], error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	q.whereIf(len(filter.Actions) > 0, "action = ANY(?)", pq.Array(stringsOf(filter.Actions)))
	if filter.Since != nil {
		q.Where("created_at >= ?", *filter.Since)
	}

	var total int64
	countStmt, countArgs := q.build("SELECT COUNT(*) FROM audit_logs", nil, "")
	if err := r.db.QueryRowContext(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return pagination.Result[*audit.Entry]{}, fmt.Errorf("failed to count audit logs: %w", err)
	}

	stmt, args := q.build("SELECT "+auditColumns+" FROM audit_logs", nil,
		"ORDER BY created_at DESC LIMIT ? OFFSET ?", page.Limit(), page.Offset())
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return pagination.Result[*audit.Entry]{}, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return pagination.Result[*audit.Entry]{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*audit.Entry]{}, err
	}
	return pagination.NewResult(entries, total, page), nil
}

// PurgeBefore deletes a batch of entries older than cutoff.
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id FROM audit_logs WHERE created_at < $1 ORDER BY created_at LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

func scanAuditEntry(row rowScanner) (*audit.Entry, error) {
	var (
		s                  audit.EntryState
		action, severity   string
		message, requestID sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.AgencyID, &s.ActorID, &action, &severity, &s.ResourceType, &s.ResourceID,
		&s.ResourceAgencyID, &message, &requestID, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Action = audit.Action(action)
	s.Severity = audit.Severity(severity)
	s.Message = nullStringValue(message)
	s.RequestID = nullStringValue(requestID)
	return audit.Reconstitute(s), nil
}
