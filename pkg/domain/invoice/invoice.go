// Package invoice provides rent invoices issued to unit occupants.
package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/pagination"
)

// Status of an invoice.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
	StatusVoid    Status = "void"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusPaid, StatusOverdue, StatusVoid:
		return true
	}
	return false
}

// Invoice is a rent invoice. It is a scoped record.
type Invoice struct {
	id          shared.ID
	agencyID    shared.ID
	unitID      shared.ID
	amountCents int64
	currency    string
	status      Status
	issuedAt    time.Time
	dueAt       time.Time
	paidAt      *time.Time
}

// NewInvoice issues an open invoice for a unit.
func NewInvoice(unitID shared.ID, amountCents int64, currency string, issuedAt, dueAt time.Time) (*Invoice, error) {
	switch {
	case unitID.IsZero():
		return nil, shared.NewDomainError("VALIDATION", "unit_id is required", shared.ErrValidation)
	case amountCents <= 0:
		return nil, shared.NewDomainError("VALIDATION", "amount must be positive", shared.ErrValidation)
	case dueAt.Before(issuedAt):
		return nil, shared.NewDomainError("VALIDATION", "due date precedes issue date", shared.ErrValidation)
	}
	if currency == "" {
		currency = "EUR"
	}
	return &Invoice{
		id:          shared.NewID(),
		unitID:      unitID,
		amountCents: amountCents,
		currency:    strings.ToUpper(currency),
		status:      StatusOpen,
		issuedAt:    issuedAt.UTC(),
		dueAt:       dueAt.UTC(),
	}, nil
}

// Reconstitute rebuilds an Invoice from storage.
func Reconstitute(id, agencyID, unitID shared.ID, amountCents int64, currency string, status Status, issuedAt, dueAt time.Time, paidAt *time.Time) *Invoice {
	return &Invoice{
		id:          id,
		agencyID:    agencyID,
		unitID:      unitID,
		amountCents: amountCents,
		currency:    currency,
		status:      status,
		issuedAt:    issuedAt,
		dueAt:       dueAt,
		paidAt:      paidAt,
	}
}

func (i *Invoice) ID() shared.ID             { return i.id }
func (i *Invoice) AgencyID() shared.ID       { return i.agencyID }
func (i *Invoice) AssignAgency(id shared.ID) { i.agencyID = id }
func (i *Invoice) ResourceType() string      { return "invoice" }
func (i *Invoice) UnitID() shared.ID         { return i.unitID }
func (i *Invoice) AmountCents() int64        { return i.amountCents }
func (i *Invoice) Currency() string          { return i.currency }
func (i *Invoice) Status() Status            { return i.status }
func (i *Invoice) IssuedAt() time.Time       { return i.issuedAt }
func (i *Invoice) DueAt() time.Time          { return i.dueAt }
func (i *Invoice) PaidAt() *time.Time        { return i.paidAt }

// MarkPaid settles the invoice.
func (i *Invoice) MarkPaid(at time.Time) error {
	if i.status == StatusPaid || i.status == StatusVoid {
		return shared.NewDomainError("INVALID_STATE", "invoice is already "+string(i.status), shared.ErrConflict)
	}
	at = at.UTC()
	i.status = StatusPaid
	i.paidAt = &at
	return nil
}

// RefreshStatus flags open invoices past their due date as overdue.
func (i *Invoice) RefreshStatus(now time.Time) {
	if i.status == StatusOpen && now.After(i.dueAt) {
		i.status = StatusOverdue
	}
}

// DaysLate returns how many days after the due date the invoice was paid,
// or is outstanding at now. Invoices paid on time return 0.
func (i *Invoice) DaysLate(now time.Time) int {
	end := now
	if i.paidAt != nil {
		end = *i.paidAt
	}
	if i.status == StatusVoid || !end.After(i.dueAt) {
		return 0
	}
	return int(end.Sub(i.dueAt).Hours() / 24)
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	UnitID   *shared.ID
	Statuses []Status
}

// Repository persists invoices within the tenancy scope of ctx.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id shared.ID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter ListFilter, page pagination.Pagination) (pagination.Result[*Invoice], error)
	IssuedSince(ctx context.Context, since time.Time) ([]*Invoice, error)
}
