package app

import (
	"context"
	"fmt"
	"time"

	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// InvoiceService issues and settles rent invoices.
type InvoiceService struct {
	invoices invoice.Repository
	units    property.UnitRepository
	logger   *logger.Logger
	now      func() time.Time
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(invoices invoice.Repository, units property.UnitRepository, log *logger.Logger) *InvoiceService {
	return &InvoiceService{
		invoices: invoices,
		units:    units,
		logger:   log.With("service", "invoice"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoiceInput issues an invoice.
type CreateInvoiceInput struct {
	UnitID      string    `json:"unit_id" validate:"required,uuid"`
	AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
	Currency    string    `json:"currency" validate:"omitempty,currency"`
	IssuedAt    time.Time `json:"issued_at"`
	DueAt       time.Time `json:"due_at" validate:"required"`
}

// CreateInvoice issues an invoice for a unit visible to the caller.
func (s *InvoiceService) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*invoice.Invoice, error) {
	ids, err := sharedIDs(in.UnitID)
	if err != nil {
		return nil, err
	}
	u, err := s.units.GetByID(ctx, ids[0])
	if err != nil {
		return nil, err
	}

	issued := in.IssuedAt
	if issued.IsZero() {
		issued = s.now()
	}
	inv, err := invoice.NewInvoice(u.ID(), in.AmountCents, in.Currency, issued, in.DueAt)
	if err != nil {
		return nil, err
	}
	inv.AssignAgency(u.AgencyID())

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkPaid settles an invoice visible to the caller.
func (s *InvoiceService) MarkPaid(ctx context.Context, id string, paidAt *time.Time) (*invoice.Invoice, error) {
	ids, err := sharedIDs(id)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByID(ctx, ids[0])
	if err != nil {
		return nil, err
	}

	at := s.now()
	if paidAt != nil {
		at = *paidAt
	}
	if err := inv.MarkPaid(at); err != nil {
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoicesInput filters invoice listings.
type ListInvoicesInput struct {
	UnitID   string
	Statuses []string `validate:"dive,invoice_status"`
	Page     int
	PerPage  int
}

// ListInvoices lists invoices visible to the caller with their status
// refreshed against the current time.
func (s *InvoiceService) ListInvoices(ctx context.Context, in ListInvoicesInput) (pagination.Result[*invoice.Invoice], error) {
	var filter invoice.ListFilter
	if in.UnitID != "" {
		ids, err := sharedIDs(in.UnitID)
		if err != nil {
			return pagination.Result[*invoice.Invoice]{}, err
		}
		filter.UnitID = &ids[0]
	}
	for _, st := range in.Statuses {
		status := invoice.Status(st)
		if !status.IsValid() {
			return pagination.Result[*invoice.Invoice]{}, fmt.Errorf("%w: unknown invoice status %q", shared.ErrValidation, st)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	res, err := s.invoices.List(ctx, filter, pagination.New(in.Page, in.PerPage))
	if err != nil {
		return res, err
	}
	now := s.now()
	for _, inv := range res.Data {
		inv.RefreshStatus(now)
	}
	return res, nil
}
