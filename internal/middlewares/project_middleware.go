package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"formapi/internal/models"
	"formapi/internal/responses"
	"formapi/internal/services"
)

const (
	ProjectIDKey      = "projectId"
	CurrentProjectKey = "currentProject"
	ParentProjectKey  = "parentProject"
	PrimaryProjectKey = "primaryProject"
	hierarchyKey      = "projectHierarchy"
)

type projectField struct {
	Project string `json:"project"`
}

// LoadProjects resolves the current, parent and primary projects for the
// request. When required is false a request without any project id
// continues untouched.
func LoadProjects(cache *services.ProjectCache, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ref := services.ProjectRef{PathParam: c.Param("projectId")}

		scope := services.ScopeFrom(ctx)
		if ref.PathParam == "" && (scope == nil || scope.ProjectID() == "") && hasBody(c.Request) {
			var body projectField
			if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
				ref.BodyProject = body.Project
			}
		}

		h, err := cache.LoadHierarchy(ctx, ref)
		if err != nil {
			if errors.Is(err, services.ErrNoProject) && !required {
				c.Next()
				return
			}
			responses.Error(c, err)
			return
		}

		if scope != nil {
			scope.SetProjectID(h.Current.ID)
		}
		c.Set(ProjectIDKey, h.Current.ID)
		c.Set(CurrentProjectKey, h.Current)
		c.Set(ParentProjectKey, h.Parent)
		c.Set(PrimaryProjectKey, h.Primary)
		c.Set(hierarchyKey, h)

		c.Next()
	}
}

// GetHierarchy returns the hierarchy stored by LoadProjects, or nil.
func GetHierarchy(c *gin.Context) *services.Hierarchy {
	v, ok := c.Get(hierarchyKey)
	if !ok {
		return nil
	}
	h, _ := v.(*services.Hierarchy)
	return h
}

func GetCurrentProject(c *gin.Context) *models.Project {
	if h := GetHierarchy(c); h != nil {
		return h.Current
	}
	return nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
