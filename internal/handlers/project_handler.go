package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"formapi/internal/middlewares"
	"formapi/internal/models"
	"formapi/internal/responses"
	"formapi/internal/services"
)

type ProjectHandler struct {
	projectService *services.ProjectService
	projectCache   *services.ProjectCache
}

func NewProjectHandler(projectService *services.ProjectService, projectCache *services.ProjectCache) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		projectCache:   projectCache,
	}
}

// CreateProject handles POST /project
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		responses.Fail(c, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	project, err := h.projectService.CreateProject(c.Request.Context(), middlewares.GetUserID(c), middlewares.GetHierarchy(c), req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, http.StatusCreated, project, "Project created successfully")
}

// GetProject handles GET /project/:projectId
func (h *ProjectHandler) GetProject(c *gin.Context) {
	current := middlewares.GetCurrentProject(c)
	if current == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	project := current.Clone()
	if v, ok := c.Get(middlewares.APICallsKey); ok {
		project.APICalls, _ = v.(*models.APICalls)
	}
	project.Disabled = c.GetString(middlewares.ProjectDisabledKey)

	responses.Success(c, http.StatusOK, project, "Project retrieved successfully")
}

// UpdateProject handles PUT /project/:projectId
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	current := middlewares.GetCurrentProject(c)
	if current == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	var req services.UpdateProjectRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		responses.Fail(c, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	project, err := h.projectService.UpdateProject(c.Request.Context(), current, req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, http.StatusOK, project, "Project updated successfully")
}

// DeleteProject handles DELETE /project/:projectId
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	current := middlewares.GetCurrentProject(c)
	if current == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	if err := h.projectService.DeleteProject(c.Request.Context(), current.ID); err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, http.StatusOK, nil, "Project deleted successfully")
}

// ListStages handles GET /project/:projectId/stages
func (h *ProjectHandler) ListStages(c *gin.Context) {
	current := middlewares.GetCurrentProject(c)
	if current == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	children, err := h.projectCache.ListChildren(c.Request.Context(), current.ID)
	if err != nil {
		responses.Error(c, err)
		return
	}
	if children == nil {
		children = []models.Project{}
	}

	responses.Success(c, http.StatusOK, children, "Stages retrieved successfully")
}

type changeOwnerRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// ChangeOwner handles PUT /project/:projectId/owner
func (h *ProjectHandler) ChangeOwner(c *gin.Context) {
	current := middlewares.GetCurrentProject(c)
	if current == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	var req changeOwnerRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		responses.Fail(c, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.projectService.ChangeOwner(c.Request.Context(), current.ID, req.Owner); err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, http.StatusOK, gin.H{"_id": current.ID, "owner": req.Owner}, "Owner changed successfully")
}

// Usage handles GET /project/:projectId/usage
func (h *ProjectHandler) Usage(c *gin.Context) {
	hierarchy := middlewares.GetHierarchy(c)
	if hierarchy == nil {
		responses.Error(c, services.ErrProjectNotFound)
		return
	}

	usage, err := h.projectService.Usage(c.Request.Context(), hierarchy.Primary.ID)
	if err != nil {
		responses.Error(c, err)
		return
	}
	if usage == nil {
		responses.Success(c, http.StatusOK, nil, "No usage recorded")
		return
	}

	responses.Success(c, http.StatusOK, usage, "Usage retrieved successfully")
}
