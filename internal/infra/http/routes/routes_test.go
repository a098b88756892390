package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/agencyhub/api/internal/infra/http"
	"github.com/agencyhub/api/internal/infra/http/handler"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/jwt"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/validator"
)

func newTestRouter(t *testing.T, demo bool) (Router, *jwt.Generator) {
	t.Helper()
	gen := jwt.NewGenerator(jwt.TokenConfig{Secret: "test-secret", Issuer: "agencyhub", AccessTokenDuration: time.Minute})
	log := logger.NewNop()
	v := validator.New()

	router := infrahttp.NewRouter()
	Register(router, Handlers{
		Health:    handler.NewHealthHandler(),
		Analysis:  handler.NewAnalysisHandler(nil, nil, v, log),
		Property:  handler.NewPropertyHandler(nil, v, log),
		Invoice:   handler.NewInvoiceHandler(nil, v, log),
		Audit:     handler.NewAuditHandler(nil, log),
		Dashboard: handler.NewDashboardHandler(nil, log),
		Admin:     handler.NewAdminHandler(nil, nil, nil, v, log),
	}, Deps{Tokens: gen, DemoEnabled: demo, Logger: log})
	return router, gen
}

func TestRegister_Routes(t *testing.T) {
	router, _ := newTestRouter(t, true)
	routes := infrahttp.CollectRoutes(router)

	have := make(map[string]bool, len(routes))
	for _, r := range routes {
		have[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /api/v1/analyses/",
		"GET /api/v1/analyses/{id}",
		"GET /api/v1/analyses/{id}/result",
		"GET /api/v1/analysis-kinds",
		"PUT /api/v1/buildings/{id}",
		"PATCH /api/v1/units/{id}",
		"POST /api/v1/invoices/{id}/pay",
		"GET /api/v1/dashboard",
		"GET /api/v1/demo/dashboard",
		"GET /api/v1/audit-logs",
		"POST /api/v1/admin/agencies",
		"GET /api/v1/admin/queues",
	} {
		assert.True(t, have[want], "missing route %s", want)
	}
}

func TestRegister_DemoRouteOnlyInDemoMode(t *testing.T) {
	router, _ := newTestRouter(t, false)
	for _, r := range infrahttp.CollectRoutes(router) {
		assert.NotEqual(t, "/api/v1/demo/dashboard", r.Path)
	}
}

func TestRegister_Guards(t *testing.T) {
	router, gen := newTestRouter(t, false)
	h := router.Handler()

	agencyToken, _, err := gen.GenerateAccessToken(shared.NewID().String(), shared.NewID().String(), false)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"anonymous tenant route", http.MethodGet, "/api/v1/buildings", "", http.StatusUnauthorized},
		{"anonymous admin route", http.MethodGet, "/api/v1/admin/queues", "", http.StatusUnauthorized},
		{"agency user on admin route", http.MethodGet, "/api/v1/admin/queues", agencyToken, http.StatusForbidden},
		{"agency user passes auth", http.MethodGet, "/api/v1/analysis-kinds", "", http.StatusUnauthorized},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
