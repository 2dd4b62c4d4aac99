package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"formapi/internal/responses"
	"formapi/internal/services"
)

// RequireOwner allows only the owner of the request's primary project.
// It must run after Authenticate and LoadProjects.
func RequireOwner(c *gin.Context) {
	userID := GetUserID(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	h := GetHierarchy(c)
	if h == nil {
		responses.Error(c, services.ErrNoProject)
		return
	}

	owner := h.Primary.Owner
	if h.Current.Owner != nil {
		owner = h.Current.Owner
	}
	if owner == nil || *owner != userID {
		responses.Error(c, services.ErrNotOwner)
		return
	}

	c.Next()
}
