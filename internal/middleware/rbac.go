// Package middleware (rbac.go) implements role-based route guards.
//
// The role is read from the user loaded by AuthMiddleware on this request, never from
// the token, so a demotion takes effect on the next request.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/auth"
	"github.com/barangay-registry/civil-registry/internal/db/models"
)

// RequireRole allows the request through only when the authenticated user holds one of roles
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(RoleKey)
		if !exists {
			httputil.Fail(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		role, ok := roleVal.(models.Role)
		if !ok {
			httputil.Fail(c, http.StatusForbidden, "Invalid role format")
			return
		}

		if !auth.HasAnyRole(role, roles...) {
			httputil.Fail(c, http.StatusForbidden, "Insufficient permissions")
			return
		}

		c.Next()
	}
}

// RequireStaff is RequireRole for ADMIN and STAFF
func RequireStaff() gin.HandlerFunc {
	return RequireRole(auth.StaffRoles...)
}
