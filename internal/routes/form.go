package routes

import (
	"github.com/gin-gonic/gin"

	"formapi/internal/handlers"
	"formapi/internal/middlewares"
	"formapi/internal/services"
)

// FormRoutes registers the gated form and submission routes. Every one of
// them is served by the resource server.
type FormRoutes struct {
	handler *handlers.ResourceHandler
	cache   *services.ProjectCache
	gate    *services.LicenseGate
}

func NewFormRoutes(handler *handlers.ResourceHandler, cache *services.ProjectCache, gate *services.LicenseGate) *FormRoutes {
	return &FormRoutes{handler: handler, cache: cache, gate: gate}
}

func (r *FormRoutes) RegisterRoutes(router gin.IRouter) {
	forms := router.Group("/project/:projectId/form")
	forms.Use(middlewares.LoadProjects(r.cache, true))
	{
		forms.POST("", r.gated(services.RouteFormCreate)...)
		forms.GET("/:formId", r.gated(services.RouteFormRead)...)
		forms.PUT("/:formId", r.gated(services.RouteFormUpdate)...)

		forms.POST("/:formId/submission", r.gated(services.RouteSubmissionCreate)...)
		forms.GET("/:formId/submission/:submissionId", r.gated(services.RouteSubmissionRead)...)
		forms.PUT("/:formId/submission/:submissionId", r.gated(services.RouteSubmissionUpdate)...)
	}
}

func (r *FormRoutes) gated(route services.RouteKey) []gin.HandlerFunc {
	return []gin.HandlerFunc{middlewares.LicenseGate(r.gate, route), r.handler.Forward}
}
