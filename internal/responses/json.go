package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"formapi/internal/repositories"
	"formapi/internal/services"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Success(c *gin.Context, statusCode int, data any, message string) {
	c.JSON(statusCode, APIResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

// Fail writes an error envelope and aborts the handler chain.
func Fail(c *gin.Context, statusCode int, err error, message string) {
	resp := APIResponse{
		Status:  "error",
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(statusCode, resp)
}

// Error maps err onto its HTTP status and writes it with the error text as
// the message.
func Error(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	Fail(c, status, err, message)
}

func StatusFor(err error) int {
	if authErr, ok := services.AsAuthorityError(err); ok {
		if authErr.Status >= 400 {
			return authErr.Status
		}
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, services.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoProject),
		errors.Is(err, services.ErrInvalidResponse),
		errors.Is(err, services.ErrHierarchyCycle),
		errors.Is(err, services.ErrNameImmutable),
		errors.Is(err, services.ErrInvalidName),
		errors.Is(err, services.ErrInvalidType),
		errors.Is(err, services.ErrInvalidPlan),
		errors.Is(err, services.ErrInvalidParent),
		errors.Is(err, services.ErrOwnerRequired),
		errors.Is(err, services.ErrMissingLicense):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
