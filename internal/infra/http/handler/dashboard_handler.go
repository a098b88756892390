package handler

import (
	"context"
	"net/http"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/logger"
)

// DashboardProvider builds portfolio dashboards.
type DashboardProvider interface {
	Dashboard(ctx context.Context) (*app.DashboardStats, error)
	DemoDashboard(ctx context.Context) (*app.DashboardStats, error)
}

// DashboardHandler serves the dashboard of the caller and the public demo.
type DashboardHandler struct {
	service DashboardProvider
	logger  *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(svc DashboardProvider, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{service: svc, logger: log}
}

// DashboardResponse adds job summaries to the aggregated stats.
type DashboardResponse struct {
	*app.DashboardStats
	RecentAnalyses []JobResponse `json:"recent_analyses"`
}

func toDashboardResponse(s *app.DashboardStats) DashboardResponse {
	recent := make([]JobResponse, len(s.RecentAnalyses))
	for i, j := range s.RecentAnalyses {
		recent[i] = toJobSummary(j)
	}
	return DashboardResponse{DashboardStats: s, RecentAnalyses: recent}
}

// Get handles GET /api/v1/dashboard
// @Summary      Portfolio dashboard
// @Tags         Dashboard
// @Success      200  {object}  DashboardResponse
// @Router       /api/v1/dashboard [get]
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Dashboard(r.Context())
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(stats))
}

// Demo handles GET /api/v1/demo/dashboard. It needs no credentials and
// answers 404 when demo mode is off.
func (h *DashboardHandler) Demo(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DemoDashboard(r.Context())
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, toDashboardResponse(stats))
}
