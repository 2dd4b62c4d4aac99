package routes

import (
	"github.com/gin-gonic/gin"

	"formapi/internal/handlers"
	"formapi/internal/middlewares"
	"formapi/internal/services"
)

type ProjectRoutes struct {
	handler *handlers.ProjectHandler
	cache   *services.ProjectCache
	gate    *services.LicenseGate
}

func NewProjectRoutes(handler *handlers.ProjectHandler, cache *services.ProjectCache, gate *services.LicenseGate) *ProjectRoutes {
	return &ProjectRoutes{handler: handler, cache: cache, gate: gate}
}

func (r *ProjectRoutes) RegisterRoutes(router gin.IRouter) {
	router.POST("/project",
		middlewares.Authenticate,
		middlewares.LoadProjects(r.cache, false),
		middlewares.LicenseGate(r.gate, services.RouteProjectCreate),
		r.handler.CreateProject,
	)

	project := router.Group("/project/:projectId")
	project.Use(middlewares.LoadProjects(r.cache, true))
	{
		project.GET("", middlewares.LicenseGate(r.gate, services.RouteProjectRead), r.handler.GetProject)
		project.GET("/stages", r.handler.ListStages)

		// Owner only
		owner := project.Group("")
		owner.Use(middlewares.Authenticate, middlewares.RequireOwner)
		owner.PUT("", middlewares.LicenseGate(r.gate, services.RouteProjectUpdate), r.handler.UpdateProject)
		owner.DELETE("", middlewares.LicenseGate(r.gate, services.RouteProjectDelete), r.handler.DeleteProject)
		owner.PUT("/owner", r.handler.ChangeOwner)
		owner.GET("/usage", r.handler.Usage)
	}
}
