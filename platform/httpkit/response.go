// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"crm_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

const msgUnexpected = "an unexpected error occurred"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// DataResponse is the standard success envelope.
type DataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// JSON sends a JSON response with the given status code.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// Data wraps payload in the success envelope.
func Data(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, DataResponse{Success: true, Data: payload})
}

// OK sends a 200 OK response with payload in the success envelope.
func OK(c *gin.Context, payload interface{}) {
	Data(c, http.StatusOK, payload)
}

// Error sends an error response with the given status code and message.
func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// HandleError maps domain errors to HTTP responses.
// Typed *apperr.Error values use their Kind for the status code. Anything else
// is an internal error whose message is only exposed while gin runs in debug mode.
// Returns true if an error was handled, false otherwise.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) && domainErr.Kind != apperr.KindUnknown {
		resp := ErrorResponse{
			Error:   domainErr.Message,
			Code:    domainErr.Code,
			Details: domainErr.Details,
		}
		if domainErr.Kind == apperr.KindInternal && !gin.IsDebugging() {
			resp.Details = nil
		}
		_ = c.Error(err)
		c.JSON(domainErr.HTTPStatus(), resp)
		return true
	}

	resp := ErrorResponse{Error: msgUnexpected}
	if gin.IsDebugging() {
		resp.Details = err.Error()
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, resp)
	return true
}
