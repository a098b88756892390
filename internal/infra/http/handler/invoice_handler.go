package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
	"github.com/agencyhub/api/pkg/validator"
)

// InvoiceService is the part of app.InvoiceService the handler uses.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, in app.CreateInvoiceInput) (*invoice.Invoice, error)
	MarkPaid(ctx context.Context, id string, paidAt *time.Time) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, in app.ListInvoicesInput) (pagination.Result[*invoice.Invoice], error)
}

// InvoiceHandler handles invoice requests.
type InvoiceHandler struct {
	service   InvoiceService
	validator *validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

// NewInvoiceHandler creates a new invoice handler.
func NewInvoiceHandler(svc InvoiceService, v *validator.Validator, log *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{service: svc, validator: v, logger: log, now: time.Now}
}

// InvoiceResponse is an invoice in API responses.
type InvoiceResponse struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	IssuedAt    string  `json:"issued_at"`
	DueAt       string  `json:"due_at"`
	PaidAt      *string `json:"paid_at,omitempty"`
	DaysLate    int     `json:"days_late"`
}

func (h *InvoiceHandler) toResponse(i *invoice.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:          i.ID().String(),
		UnitID:      i.UnitID().String(),
		AmountCents: i.AmountCents(),
		Currency:    i.Currency(),
		Status:      string(i.Status()),
		IssuedAt:    rfc3339(i.IssuedAt()),
		DueAt:       rfc3339(i.DueAt()),
		PaidAt:      formatTime(i.PaidAt()),
		DaysLate:    i.DaysLate(h.now()),
	}
}

// List handles GET /api/v1/invoices
// @Summary      List invoices
// @Tags         Invoices
// @Param        unit_id  query  string  false  "Unit"
// @Param        status   query  string  false  "Statuses (comma-separated)"
// @Success      200  {object}  ListResponse[InvoiceResponse]
// @Router       /api/v1/invoices [get]
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := app.ListInvoicesInput{
		UnitID:   q.Get("unit_id"),
		Statuses: parseQueryList(q.Get("status")),
		Page:     parseQueryInt(q.Get("page"), 1),
		PerPage:  parseQueryInt(q.Get("per_page"), 20),
	}
	if err := h.validator.Validate(in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	res, err := h.service.ListInvoices(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(r, res, h.toResponse))
}

// Create handles POST /api/v1/invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in app.CreateInvoiceInput
	if err := decodeJSON(r, &in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	if err := h.validator.Validate(in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(inv))
}

// MarkPaidRequest optionally backdates a payment.
type MarkPaidRequest struct {
	PaidAt *time.Time `json:"paid_at"`
}

// MarkPaid handles POST /api/v1/invoices/{id}/pay. The body is optional.
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if r.ContentLength != 0 && r.Body != http.NoBody {
		if err := decodeJSON(r, &req); err != nil {
			respond(w, r, h.logger, err)
			return
		}
	}
	inv, err := h.service.MarkPaid(r.Context(), r.PathValue("id"), req.PaidAt)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(inv))
}
