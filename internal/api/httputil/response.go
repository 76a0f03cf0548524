// Package httputil writes the JSON response envelope shared by every route:
//
//	{"status": "success" | "fail" | "error", "data": ..., "message": "..."}
//
// "fail" is used for 4xx responses and "error" for 5xx.
package httputil

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"

	// DevModeKey is the gin context key that enables error details in responses
	DevModeKey = "dev_mode"

	internalMessage = "An unexpected error occurred"
)

// Envelope is the body of every JSON response
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// DevMode marks every request as running in a development environment
func DevMode(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(DevModeKey, enabled)
		c.Next()
	}
}

// Success writes a success envelope carrying data
func Success(c *gin.Context, code int, data any) {
	c.JSON(code, Envelope{Status: StatusSuccess, Data: data})
}

// Fail writes a fail or error envelope with message and aborts the chain
func Fail(c *gin.Context, code int, message string) {
	status := StatusFail
	if code >= http.StatusInternalServerError {
		status = StatusError
	}
	c.AbortWithStatusJSON(code, Envelope{Status: status, Message: message})
}

// RespondError maps err to a status code through its apperrors kind. Errors without a
// kind are treated as internal. Internal details are logged and only returned to the
// client in development.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, internalMessage)
	}

	code := apperrors.HTTPStatus(appErr.Kind)
	if appErr.Kind != apperrors.KindInternal {
		Fail(c, code, appErr.Message)
		return
	}

	slog.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"request_id", c.GetString("request_id"),
		"error", err,
	)

	body := Envelope{Status: StatusError, Message: internalMessage}
	if c.GetBool(DevModeKey) {
		body.Error = err.Error()
		body.Stack = string(debug.Stack())
	}
	c.AbortWithStatusJSON(code, body)
}
