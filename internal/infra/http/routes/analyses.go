package routes

import (
	"github.com/agencyhub/api/internal/infra/http/handler"
	"github.com/agencyhub/api/internal/infra/http/middleware"
)

// registerAnalysisRoutes registers analysis job endpoints. Submissions pass
// through the per agency quota when one is configured.
func registerAnalysisRoutes(router Router, h *handler.AnalysisHandler, d Deps, tenant []Middleware) {
	var submit []Middleware
	if d.SubmissionQuota != nil {
		submit = append(submit, middleware.SubmissionQuota(d.SubmissionQuota, d.Logger))
	}

	router.Group("/api/v1/analyses", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Submit, submit...)
		r.GET("/{id}", h.Get)
		r.GET("/{id}/result", h.Result)
	}, tenant...)

	router.GET("/api/v1/analysis-kinds", h.Kinds, tenant...)
}
