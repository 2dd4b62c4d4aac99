package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"formapi/internal/responses"
	"formapi/internal/services"
)

const (
	APICallsKey        = "apiCalls"
	ProjectDisabledKey = "projectDisabled"
)

// LicenseGate asks the license gate about route before the handler runs.
// It must run after LoadProjects.
func LicenseGate(gate *services.LicenseGate, route services.RouteKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := services.GateRequest{
			Route:     route,
			Hierarchy: GetHierarchy(c),
			FormID:    c.Param("formId"),
		}
		if (route == services.RouteProjectCreate || route == services.RouteProjectUpdate) && hasBody(c.Request) {
			if err := c.ShouldBindBodyWith(&req.Body, binding.JSON); err != nil {
				responses.Fail(c, http.StatusBadRequest, err, "Invalid request body")
				return
			}
		}

		outcome := gate.Check(c.Request.Context(), req)
		if !outcome.Proceed() {
			responses.Fail(c, outcome.Status, outcome.Err, outcome.Err.Error())
			return
		}

		if outcome.APICalls != nil {
			c.Set(APICallsKey, outcome.APICalls)
		}
		if outcome.Disabled != "" {
			c.Set(ProjectDisabledKey, outcome.Disabled)
		}

		c.Next()
	}
}
