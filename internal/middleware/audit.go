// audit.go provides Gin middleware that attaches client metadata to the request context
// so the audit recorder can stamp entries written by the certificate workflow.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/audit"
)

// AuditContextMiddleware stores the client IP, user agent and request ID in the request
// context. It must run after RequestIDMiddleware.
func AuditContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := audit.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString(RequestIDKey),
		}
		c.Request = c.Request.WithContext(audit.WithRequestMeta(c.Request.Context(), meta))
		c.Next()
	}
}
