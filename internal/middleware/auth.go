// Package middleware provides Gin HTTP middleware for authentication, role checks,
// rate limiting, security headers, metrics and audit request metadata.
//
// Middleware ordering is set in router.go:
//
//	RequestID → Metrics → Logger → CORS → Security → AuditContext → RateLimit → Auth → RequireRole → Handler
//
// Rate limiting runs before auth on public routes so brute-force attempts are
// rejected before any database work. Auth loads the user from the database on
// every request; RequireRole reads the role it stored.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/auth"
	"github.com/barangay-registry/civil-registry/internal/db/models"
)

// Gin context keys set by AuthMiddleware
const (
	UserKey   = "user"
	UserIDKey = "user_id"
	RoleKey   = "role"
)

// UserLoader resolves the account behind a token
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// AuthMiddleware validates the bearer JWT and loads the active user it names
func AuthMiddleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.Fail(c, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			httputil.Fail(c, http.StatusUnauthorized, "Authorization header must start with 'Bearer '")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			httputil.Fail(c, http.StatusUnauthorized, "Authorization token is empty")
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			httputil.Fail(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		// The role claim is informational only; the stored user is authoritative
		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			slog.Error("failed to load user for token", "user_id", claims.UserID, "error", err)
			httputil.Fail(c, http.StatusInternalServerError, "Failed to load user")
			return
		}
		if user == nil || !user.IsActive {
			httputil.Fail(c, http.StatusUnauthorized, "User not found or inactive")
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(RoleKey, user.Role)

		c.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleware
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}
