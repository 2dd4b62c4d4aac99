package middlewares

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formapi/internal/logger"
	"formapi/internal/services"
	"formapi/internal/utils"
)

// CORS allows the origins listed in the project's settings. Requests that
// carry no project, or whose project has no CORS setting, allow any origin.
func CORS(cache *services.ProjectCache) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginWithContextFunc: func(c *gin.Context, origin string) bool {
			return originAllowed(c, cache, origin)
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "x-jwt-token", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "x-jwt-token", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func originAllowed(c *gin.Context, cache *services.ProjectCache, origin string) bool {
	ctx := c.Request.Context()
	id, err := services.CurrentProjectID(ctx, services.ProjectRef{PathParam: c.Param("projectId")})
	if err != nil {
		return true
	}

	project, err := cache.LoadProject(ctx, id)
	if err != nil {
		logger.FromContext(ctx).Debug("cors: project lookup failed", zap.String("project_id", id), zap.Error(err))
		return true
	}

	setting := project.Settings.CORS
	if setting == "" || setting == "*" {
		return true
	}
	allowed := utils.SplitList(setting)
	return utils.Contains(allowed, "*") || utils.Contains(allowed, origin)
}
