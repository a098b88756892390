package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

const invoiceColumns = `id, agency_id, unit_id, amount_cents, currency, status, issued_at, due_at, paid_at`

// InvoiceRepository implements invoice.Repository using PostgreSQL.
type InvoiceRepository struct {
	db     *DB
	filter *tenancy.Filter
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(db *DB, filter *tenancy.Filter) *InvoiceRepository {
	return &InvoiceRepository{db: db, filter: filter}
}

var _ invoice.Repository = (*InvoiceRepository)(nil)

// Create persists a new invoice.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := r.filter.AssignOnCreate(ctx, inv); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID(), inv.AgencyID(), inv.UnitID(), inv.AmountCents(), inv.Currency(), string(inv.Status()),
		inv.IssuedAt(), inv.DueAt(), nullTime(inv.PaidAt()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.NewDomainError("UNIT_NOT_FOUND", "unit does not exist", shared.ErrValidation)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID loads an invoice visible to the caller.
func (r *InvoiceRepository) GetByID(ctx context.Context, id shared.ID) (*invoice.Invoice, error) {
	q := newQuery()
	q.Where("id = ?", id)
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("SELECT "+invoiceColumns+" FROM invoices", nil, "")
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// Update saves invoice status and payment.
func (r *InvoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	stored, err := r.db.storedOwner(ctx, "invoices", agencyColumn, inv.ResourceType(), inv.ID())
	if err != nil {
		return err
	}
	if err := r.filter.GuardUpdate(ctx, stored); err != nil {
		return err
	}

	q := newQuery()
	q.Where("id = ?", inv.ID())
	r.filter.Apply(ctx, q, agencyColumn)

	stmt, args := q.build("UPDATE invoices SET status = ?, paid_at = ?",
		[]any{string(inv.Status()), nullTime(inv.PaidAt())}, "")
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return affectedOrNotFound(res)
}

// List returns a page of invoices visible to the caller, newest first.
func (r *InvoiceRepository) List(ctx context.Context, filter invoice.ListFilter, page pagination.Pagination) (pagination.Result[*invoice.Invoice], error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	if filter.UnitID != nil {
		q.Where("unit_id = ?", *filter.UnitID)
	}
	q.whereIf(len(filter.Statuses) > 0, "status = ANY(?)", pq.Array(stringsOf(filter.Statuses)))

	var total int64
	countStmt, countArgs := q.build("SELECT COUNT(*) FROM invoices", nil, "")
	if err := r.db.QueryRowContext(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return pagination.Result[*invoice.Invoice]{}, fmt.Errorf("failed to count invoices: %w", err)
	}

	stmt, args := q.build("SELECT "+invoiceColumns+" FROM invoices", nil,
		"ORDER BY issued_at DESC LIMIT ? OFFSET ?", page.Limit(), page.Offset())
	invoices, err := r.query(ctx, stmt, args)
	if err != nil {
		return pagination.Result[*invoice.Invoice]{}, err
	}
	return pagination.NewResult(invoices, total, page), nil
}

// IssuedSince returns invoices issued at or after since.
func (r *InvoiceRepository) IssuedSince(ctx context.Context, since time.Time) ([]*invoice.Invoice, error) {
	q := newQuery()
	r.filter.Apply(ctx, q, agencyColumn)
	q.Where("issued_at >= ?", since)
	stmt, args := q.build("SELECT "+invoiceColumns+" FROM invoices", nil, "ORDER BY issued_at")
	return r.query(ctx, stmt, args)
}

func (r *InvoiceRepository) query(ctx context.Context, stmt string, args []any) ([]*invoice.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(row rowScanner) (*invoice.Invoice, error) {
	var (
		id, agencyID, unitID shared.ID
		amountCents          int64
		currency, status     string
		issuedAt, dueAt      time.Time
		paidAt               sql.NullTime
	)
	if err := row.Scan(&id, &agencyID, &unitID, &amountCents, &currency, &status, &issuedAt, &dueAt, &paidAt); err != nil {
		return nil, err
	}
	return invoice.Reconstitute(id, agencyID, unitID, amountCents, currency, invoice.Status(status),
		issuedAt, dueAt, nullTimeValue(paidAt)), nil
}
