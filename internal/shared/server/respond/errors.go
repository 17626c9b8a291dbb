// Package respond writes the API's JSON envelopes.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docgen-backend/internal/shared/telemetry"
)

// Error codes returned in ErrorBody.Code.
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal_error"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "requestId"

// ErrorBody is the error object returned to API clients.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody under "error".
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// JSON writes payload with status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes payload with 200.
func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Error logs the failure and aborts with an ErrorResponse. 5xx responses log
// at error level, everything else at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	reqID := c.GetString(RequestIDKey)
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": reqID,
	}
	if taskID := c.Param("id"); taskID != "" {
		fields["task_id"] = taskID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: reqID,
		Details:   details,
	}})
}
