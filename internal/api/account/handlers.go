// Package account implements password login and the caller identity endpoint.
package account

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/auth"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/middleware"
)

const invalidCredentials = "Invalid email or password"

// UserStore looks up login identities
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// PersonLookup resolves the person linked to a user
type PersonLookup interface {
	GetByUserID(ctx context.Context, userID string) (*models.Person, error)
}

// Handlers serves /auth endpoints
type Handlers struct {
	users     UserStore
	persons   PersonLookup
	jwtExpiry time.Duration
}

// NewHandlers creates account handlers. jwtExpiry of zero uses the token default.
func NewHandlers(users UserStore, persons PersonLookup, jwtExpiry time.Duration) *Handlers {
	return &Handlers{users: users, persons: persons, jwtExpiry: jwtExpiry}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// MeResponse describes the caller
type MeResponse struct {
	User     *models.User `json:"user"`
	PersonID *string      `json:"personId"`
}

// @Summary      Log in
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  httputil.Envelope
// @Failure      401  {object}  httputil.Envelope
// @Router       /api/v1/auth/login [post]
// Login exchanges an email and password for a JWT
func (h *Handlers) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body LoginRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			httputil.RespondError(c, apperrors.Validation("email and password are required"))
			return
		}

		user, err := h.users.GetUserByEmail(c.Request.Context(), strings.TrimSpace(body.Email))
		if err != nil {
			httputil.RespondError(c, apperrors.Wrap(err, "failed to look up user"))
			return
		}
		if user == nil || !user.IsActive {
			httputil.RespondError(c, apperrors.Authentication(invalidCredentials))
			return
		}

		ok, err := auth.CheckPassword(user.PasswordHash, body.Password)
		if err != nil {
			httputil.RespondError(c, apperrors.Wrap(err, "failed to verify password"))
			return
		}
		if !ok {
			slog.Info("failed login", "user_id", user.ID, "ip", c.ClientIP())
			httputil.RespondError(c, apperrors.Authentication(invalidCredentials))
			return
		}

		expiry := h.jwtExpiry
		if expiry == 0 {
			expiry = 24 * time.Hour
		}
		token, err := auth.GenerateJWT(user, expiry)
		if err != nil {
			httputil.RespondError(c, apperrors.Wrap(err, "failed to issue token"))
			return
		}

		httputil.Success(c, http.StatusOK, LoginResponse{
			Token:     token,
			ExpiresAt: time.Now().Add(expiry).UTC(),
			User:      user,
		})
	}
}

// @Summary      Current user
// @Tags         Authentication
// @Produce      json
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/auth/me [get]
// Me returns the authenticated user and their linked person ID, if any
func (h *Handlers) Me() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			httputil.RespondError(c, apperrors.Authentication("authentication required"))
			return
		}

		resp := MeResponse{User: user}
		person, err := h.persons.GetByUserID(c.Request.Context(), user.ID)
		if err != nil {
			httputil.RespondError(c, apperrors.Wrap(err, "failed to look up linked person"))
			return
		}
		if person != nil {
			resp.PersonID = &person.ID
		}

		httputil.Success(c, http.StatusOK, resp)
	}
}
