package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/internal/infra/storage"
	"github.com/agencyhub/api/pkg/apierror"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
	"github.com/agencyhub/api/pkg/validator"
)

// AnalysisService is the part of app.AnalysisService the handler uses.
type AnalysisService interface {
	Submit(ctx context.Context, in app.SubmitAnalysisInput) (*app.SubmitAnalysisOutput, error)
	GetJob(ctx context.Context, id string) (*analysis.Job, error)
	ListJobs(ctx context.Context, in app.ListAnalysesInput) (pagination.Result[*analysis.Job], error)
	ListKinds() []app.KindInfo
}

// ResultLoader reads archived results back.
type ResultLoader interface {
	LoadResult(ctx context.Context, job *analysis.Job) (*storage.ResultDocument, error)
}

// AnalysisHandler handles analysis job requests.
type AnalysisHandler struct {
	service   AnalysisService
	results   ResultLoader // nil when archiving is disabled
	validator *validator.Validator
	logger    *logger.Logger
}

// NewAnalysisHandler creates a new analysis handler. results may be nil.
func NewAnalysisHandler(svc AnalysisService, results ResultLoader, v *validator.Validator, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: svc, results: results, validator: v, logger: log}
}

// JobResponse is an analysis job in API responses.
type JobResponse struct {
	ID           string         `json:"id"`
	AgencyID     string         `json:"agency_id"`
	Kind         string         `json:"kind"`
	Priority     string         `json:"priority"`
	Status       string         `json:"status"`
	Confidence   float64        `json:"confidence_score"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	RequestedBy  string         `json:"requested_by,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	StartedAt    *string        `json:"started_at,omitempty"`
	CompletedAt  *string        `json:"completed_at,omitempty"`
	FailedAt     *string        `json:"failed_at,omitempty"`
}

func toJobResponse(j *analysis.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID().String(),
		AgencyID:     j.AgencyID().String(),
		Kind:         string(j.Kind()),
		Priority:     string(j.Priority()),
		Status:       string(j.Status()),
		Confidence:   j.Confidence(),
		Input:        j.Input(),
		Output:       j.Output(),
		ErrorMessage: j.ErrorMessage(),
		AttemptCount: j.AttemptCount(),
		MaxAttempts:  j.MaxAttempts(),
		CreatedAt:    rfc3339(j.CreatedAt()),
		UpdatedAt:    rfc3339(j.UpdatedAt()),
		StartedAt:    formatTime(j.StartedAt()),
		CompletedAt:  formatTime(j.CompletedAt()),
		FailedAt:     formatTime(j.FailedAt()),
	}
	if !j.RequestedBy().IsZero() {
		resp.RequestedBy = j.RequestedBy().String()
	}
	return resp
}

// toJobSummary drops the payloads for list views.
func toJobSummary(j *analysis.Job) JobResponse {
	resp := toJobResponse(j)
	resp.Input, resp.Output = nil, nil
	return resp
}

// Submit handles POST /api/v1/analyses
// @Summary      Submit an analysis
// @Description  Persists a pending job and queues it on the kind's priority queue
// @Tags         Analyses
// @Accept       json
// @Produce      json
// @Success      202  {object}  app.SubmitAnalysisOutput
// @Failure      422  {object}  apierror.Response
// @Failure      429  {object}  apierror.Response
// @Router       /api/v1/analyses [post]
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in app.SubmitAnalysisInput
	if err := decodeJSON(r, &in); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	if err := h.validator.Validate(in); err != nil {
		respond(w, r, h.logger, err)
		return
	}

	out, err := h.service.Submit(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/analyses/"+out.JobID.String())
	writeJSON(w, http.StatusAccepted, out)
}

// List handles GET /api/v1/analyses
// @Summary      List analyses
// @Tags         Analyses
// @Produce      json
// @Param        kind      query  string  false  "Kinds (comma-separated)"
// @Param        status    query  string  false  "Statuses (comma-separated)"
// @Param        sort      query  string  false  "Sort field, prefix with - for descending"
// @Param        page      query  int     false  "Page"
// @Param        per_page  query  int     false  "Page size"
// @Success      200  {object}  ListResponse[JobResponse]
// @Router       /api/v1/analyses [get]
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := app.ListAnalysesInput{
		Kinds:    parseQueryList(q.Get("kind")),
		Statuses: parseQueryList(q.Get("status")),
		Sort:     q.Get("sort"),
		Page:     parseQueryInt(q.Get("page"), 1),
		PerPage:  parseQueryInt(q.Get("per_page"), 20),
	}
	if err := h.validator.Validate(in); err != nil {
		respond(w, r, h.logger, err)
		return
	}

	res, err := h.service.ListJobs(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(r, res, toJobSummary))
}

// Get handles GET /api/v1/analyses/{id}
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// Result handles GET /api/v1/analyses/{id}/result and serves the archived
// document of a completed job.
func (h *AnalysisHandler) Result(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		apierror.ServiceUnavailable("Result archiving is not configured").
			WriteJSONWithRequestID(w, requestID(r))
		return
	}

	job, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	if !job.IsCompleted() {
		apierror.Conflict("The analysis has not completed").
			WithDetails(map[string]string{"status": string(job.Status())}).
			WriteJSONWithRequestID(w, requestID(r))
		return
	}

	doc, err := h.results.LoadResult(r.Context(), job)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			apierror.NotFound("Archived result").WriteJSONWithRequestID(w, requestID(r))
			return
		}
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Kinds handles GET /api/v1/analysis-kinds
func (h *AnalysisHandler) Kinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.service.ListKinds()})
}
