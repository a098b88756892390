package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/internal/infra/jobs"
	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/validator"
)

// AgencyService is the part of app.AgencyService the handlers use.
type AgencyService interface {
	CreateAgency(ctx context.Context, in app.CreateAgencyInput) (*agency.Agency, error)
	Current(ctx context.Context) (*agency.Agency, error)
}

// QueueInspector reports queue depths.
type QueueInspector interface {
	QueueStats(ctx context.Context) ([]jobs.QueueStats, error)
}

// StuckJobRecoverer fails jobs abandoned in processing.
type StuckJobRecoverer interface {
	RecoverStuckJobs(ctx context.Context, in app.RecoverStuckJobsInput) (*app.RecoverStuckJobsOutput, error)
}

// AdminHandler serves platform administration and the caller's agency.
type AdminHandler struct {
	agencies  AgencyService
	queues    QueueInspector
	recoverer StuckJobRecoverer
	validator *validator.Validator
	logger    *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	agencies AgencyService,
	queues QueueInspector,
	recoverer StuckJobRecoverer,
	v *validator.Validator,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		agencies:  agencies,
		queues:    queues,
		recoverer: recoverer,
		validator: v,
		logger:    log,
	}
}

// AgencyResponse is an agency in API responses.
type AgencyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Currency  string `json:"currency"`
	Locale    string `json:"locale"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func toAgencyResponse(a *agency.Agency) AgencyResponse {
	return AgencyResponse{
		ID:        a.ID().String(),
		Name:      a.Name(),
		Slug:      a.Slug(),
		Currency:  a.Currency(),
		Locale:    a.Locale(),
		Active:    a.IsActive(),
		CreatedAt: rfc3339(a.CreatedAt()),
	}
}

// CurrentAgency handles GET /api/v1/agency
func (h *AdminHandler) CurrentAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.agencies.Current(r.Context())
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgencyResponse(a))
}

// CreateAgency handles POST /api/v1/admin/agencies
func (h *AdminHandler) CreateAgency(w http.ResponseWriter, r *http.Request) {
	var in app.CreateAgencyInput
	if err := decodeJSON(r, &in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	if err := h.validator.Validate(in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	a, err := h.agencies.CreateAgency(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgencyResponse(a))
}

// Queues handles GET /api/v1/admin/queues
func (h *AdminHandler) Queues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queues.QueueStats(r.Context())
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}

// RecoverRequest overrides the recovery defaults.
type RecoverRequest struct {
	StuckAfterSeconds int `json:"stuck_after_seconds" validate:"omitempty,min=60"`
	Limit             int `json:"limit" validate:"omitempty,min=1,max=500"`
}

// RecoverStuckJobs handles POST /api/v1/admin/analyses/recover. The body is optional.
func (h *AdminHandler) RecoverStuckJobs(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if r.ContentLength != 0 && r.Body != http.NoBody {
		if err := decodeJSON(r, &req); err != nil {
			respond(w, r, h.logger, err)
			return
		}
		if err := h.validator.Validate(req); err != nil {
			respond(w, r, h.logger, err)
			return
		}
	}
	out, err := h.recoverer.RecoverStuckJobs(r.Context(), app.RecoverStuckJobsInput{
		StuckAfter: time.Duration(req.StuckAfterSeconds) * time.Second,
		Limit:      req.Limit,
	})
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	h.logger.WithContext(r.Context()).Info("stuck analyses recovered",
		"total", out.Total, "recovered", out.Recovered, "errors", out.Errors)
	writeJSON(w, http.StatusOK, out)
}
