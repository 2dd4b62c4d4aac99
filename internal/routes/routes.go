package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formapi/internal/handlers"
	"formapi/internal/middlewares"
	"formapi/internal/services"
)

func RegisterRoutes(
	router *gin.Engine,
	projectHandler *handlers.ProjectHandler,
	resourceHandler *handlers.ResourceHandler,
	healthHandler *handlers.HealthHandler,
	cache *services.ProjectCache,
	gate *services.LicenseGate,
) {
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	projectRoutes := NewProjectRoutes(projectHandler, cache, gate)
	projectRoutes.RegisterRoutes(router)

	formRoutes := NewFormRoutes(resourceHandler, cache, gate)
	formRoutes.RegisterRoutes(router)

	// Everything else belongs to the resource server when a project was
	// resolved.
	router.NoRoute(middlewares.LoadProjects(cache, false), resourceHandler.Forward)
}
