package handler

import (
	"context"
	"net/http"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// AuditLister lists audit entries visible to the caller.
type AuditLister interface {
	List(ctx context.Context, in app.ListAuditLogsInput) (pagination.Result[*audit.Entry], error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	service AuditLister
	logger  *logger.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(svc AuditLister, log *logger.Logger) *AuditHandler {
	return &AuditHandler{service: svc, logger: log}
}

// AuditEntryResponse is an audit entry in API responses.
type AuditEntryResponse struct {
	ID               string `json:"id"`
	Action           string `json:"action"`
	Severity         string `json:"severity"`
	ActorID          string `json:"actor_id,omitempty"`
	ResourceType     string `json:"resource_type"`
	ResourceID       string `json:"resource_id,omitempty"`
	ResourceAgencyID string `json:"resource_agency_id,omitempty"`
	Message          string `json:"message,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func idOrEmpty(id shared.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func toAuditEntryResponse(e *audit.Entry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:               e.ID().String(),
		Action:           string(e.Action()),
		Severity:         string(e.Severity()),
		ActorID:          idOrEmpty(e.ActorID()),
		ResourceType:     e.ResourceType(),
		ResourceID:       idOrEmpty(e.ResourceID()),
		ResourceAgencyID: idOrEmpty(e.ResourceAgencyID()),
		Message:          e.Message(),
		RequestID:        e.RequestID(),
		CreatedAt:        rfc3339(e.CreatedAt()),
	}
}

// List handles GET /api/v1/audit-logs
// @Summary      List audit entries
// @Tags         Audit
// @Param        action  query  string  false  "Actions (comma-separated)"
// @Param        since   query  string  false  "RFC 3339 lower bound"
// @Success      200  {object}  ListResponse[AuditEntryResponse]
// @Router       /api/v1/audit-logs [get]
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseQueryTime(q.Get("since"))
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	res, err := h.service.List(r.Context(), app.ListAuditLogsInput{
		Actions: parseQueryList(q.Get("action")),
		Since:   since,
		Page:    parseQueryInt(q.Get("page"), 1),
		PerPage: parseQueryInt(q.Get("per_page"), 50),
	})
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(r, res, toAuditEntryResponse))
}
