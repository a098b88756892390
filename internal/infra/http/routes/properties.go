package routes

import "github.com/agencyhub/api/internal/infra/http/handler"

// registerPropertyRoutes registers building and unit endpoints.
func registerPropertyRoutes(router Router, h *handler.PropertyHandler, tenant []Middleware) {
	router.Group("/api/v1/buildings", func(r Router) {
		r.GET("/", h.ListBuildings)
		r.POST("/", h.CreateBuilding)
		r.GET("/{id}", h.GetBuilding)
		r.PUT("/{id}", h.ReplaceBuilding)
		r.DELETE("/{id}", h.DeleteBuilding)
		r.GET("/{id}/units", h.ListUnits)
		r.POST("/{id}/units", h.CreateUnit)
	}, tenant...)

	router.PATCH("/api/v1/units/{id}", h.UpdateUnit, tenant...)
}

// registerInvoiceRoutes registers invoice endpoints.
func registerInvoiceRoutes(router Router, h *handler.InvoiceHandler, tenant []Middleware) {
	router.Group("/api/v1/invoices", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Create)
		r.POST("/{id}/pay", h.MarkPaid)
	}, tenant...)
}
