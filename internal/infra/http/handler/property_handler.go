package handler

import (
	"context"
	"net/http"

	"github.com/agencyhub/api/internal/app"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
	"github.com/agencyhub/api/pkg/validator"
)

// PropertyService is the part of app.PropertyService the handler uses.
type PropertyService interface {
	CreateBuilding(ctx context.Context, in app.BuildingInput) (*property.Building, error)
	GetBuilding(ctx context.Context, id string) (*property.Building, error)
	ReplaceBuilding(ctx context.Context, id string, in app.BuildingInput) (*property.Building, error)
	DeleteBuilding(ctx context.Context, id string) error
	ListBuildings(ctx context.Context, in app.ListBuildingsInput) (pagination.Result[*property.Building], error)
	CreateUnit(ctx context.Context, buildingID string, in app.CreateUnitInput) (*property.Unit, error)
	ListUnits(ctx context.Context, buildingID string) ([]*property.Unit, error)
	UpdateUnit(ctx context.Context, unitID string, in app.UpdateUnitInput) (*property.Unit, error)
}

// PropertyHandler handles building and unit requests.
type PropertyHandler struct {
	service   PropertyService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewPropertyHandler creates a new property handler.
func NewPropertyHandler(svc PropertyService, v *validator.Validator, log *logger.Logger) *PropertyHandler {
	return &PropertyHandler{service: svc, validator: v, logger: log}
}

// BuildingResponse is a building in API responses.
type BuildingResponse struct {
	ID        string `json:"id"`
	AgencyID  string `json:"agency_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	YearBuilt int    `json:"year_built,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toBuildingResponse(b *property.Building) BuildingResponse {
	return BuildingResponse{
		ID:        b.ID().String(),
		AgencyID:  b.AgencyID().String(),
		Name:      b.Name(),
		Address:   b.Address(),
		City:      b.City(),
		YearBuilt: b.YearBuilt(),
		CreatedAt: rfc3339(b.CreatedAt()),
		UpdatedAt: rfc3339(b.UpdatedAt()),
	}
}

// UnitResponse is a unit in API responses.
type UnitResponse struct {
	ID                string  `json:"id"`
	BuildingID        string  `json:"building_id"`
	Label             string  `json:"label"`
	AreaSqm           float64 `json:"area_sqm"`
	Bedrooms          int     `json:"bedrooms"`
	MonthlyRentCents  int64   `json:"monthly_rent_cents"`
	RentPerSqm        float64 `json:"rent_per_sqm"`
	Occupied          bool    `json:"occupied"`
	LeaseEndsAt       *string `json:"lease_ends_at,omitempty"`
	LastMaintenanceAt *string `json:"last_maintenance_at,omitempty"`
	UpdatedAt         string  `json:"updated_at"`
}

func toUnitResponse(u *property.Unit) UnitResponse {
	return UnitResponse{
		ID:                u.ID().String(),
		BuildingID:        u.BuildingID().String(),
		Label:             u.Label(),
		AreaSqm:           u.AreaSqm(),
		Bedrooms:          u.Bedrooms(),
		MonthlyRentCents:  u.MonthlyRentCents(),
		RentPerSqm:        u.RentPerSqm(),
		Occupied:          u.IsOccupied(),
		LeaseEndsAt:       formatTime(u.LeaseEndsAt()),
		LastMaintenanceAt: formatTime(u.LastMaintenanceAt()),
		UpdatedAt:         rfc3339(u.UpdatedAt()),
	}
}

// ListBuildings handles GET /api/v1/buildings
// @Summary      List buildings
// @Tags         Buildings
// @Param        city      query  string  false  "Exact city"
// @Param        search    query  string  false  "Name or address contains"
// @Param        sort      query  string  false  "name, city, created_at"
// @Success      200  {object}  ListResponse[BuildingResponse]
// @Router       /api/v1/buildings [get]
func (h *PropertyHandler) ListBuildings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.ListBuildings(r.Context(), app.ListBuildingsInput{
		City:    q.Get("city"),
		Search:  q.Get("search"),
		Sort:    q.Get("sort"),
		Page:    parseQueryInt(q.Get("page"), 1),
		PerPage: parseQueryInt(q.Get("per_page"), 20),
	})
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(r, res, toBuildingResponse))
}

// CreateBuilding handles POST /api/v1/buildings
func (h *PropertyHandler) CreateBuilding(w http.ResponseWriter, r *http.Request) {
	var in app.BuildingInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	b, err := h.service.CreateBuilding(r.Context(), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBuildingResponse(b))
}

// GetBuilding handles GET /api/v1/buildings/{id}
func (h *PropertyHandler) GetBuilding(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBuilding(r.Context(), r.PathValue("id"))
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBuildingResponse(b))
}

// ReplaceBuilding handles PUT /api/v1/buildings/{id}
func (h *PropertyHandler) ReplaceBuilding(w http.ResponseWriter, r *http.Request) {
	var in app.BuildingInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	b, err := h.service.ReplaceBuilding(r.Context(), r.PathValue("id"), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBuildingResponse(b))
}

// DeleteBuilding handles DELETE /api/v1/buildings/{id}
func (h *PropertyHandler) DeleteBuilding(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBuilding(r.Context(), r.PathValue("id")); err != nil {
		respond(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUnits handles GET /api/v1/buildings/{id}/units
func (h *PropertyHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context(), r.PathValue("id"))
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	out := make([]UnitResponse, len(units))
	for i, u := range units {
		out[i] = toUnitResponse(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// CreateUnit handles POST /api/v1/buildings/{id}/units
func (h *PropertyHandler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var in app.CreateUnitInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	u, err := h.service.CreateUnit(r.Context(), r.PathValue("id"), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitResponse(u))
}

// UpdateUnit handles PATCH /api/v1/units/{id}
func (h *PropertyHandler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	var in app.UpdateUnitInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	u, err := h.service.UpdateUnit(r.Context(), r.PathValue("id"), in)
	if err != nil {
		respond(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(u))
}

func (h *PropertyHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		respond(w, r, h.logger, err)
		return false
	}
	if err := h.validator.Validate(dst); err != nil {
		respond(w, r, h.logger, err)
		return false
	}
	return true
}
