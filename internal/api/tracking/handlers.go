// Package tracking implements the /api/v1/tracking endpoints: the unauthenticated
// lookup by control number and the caller's own request list and status counts.
package tracking

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/certificates"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/middleware"
)

// Tracker is the subset of the certificate service used for tracking
type Tracker interface {
	Track(ctx context.Context, controlNumber string) (*certificates.PublicView, error)
	MyRequests(ctx context.Context, userID string) ([]*models.CertificateRequest, error)
	MyStats(ctx context.Context, userID string) (*certificates.Stats, error)
}

// Handlers serves tracking endpoints
type Handlers struct {
	tracker Tracker
}

// NewHandlers creates tracking handlers
func NewHandlers(tracker Tracker) *Handlers {
	return &Handlers{tracker: tracker}
}

// @Summary      Track a certificate request
// @Description  Public, rate limited. Exact match on the control number; returns no personal identifiers.
// @Tags         Tracking
// @Produce      json
// @Param        controlNumber  path  string  true  "Control number"
// @Success      200  {object}  httputil.Envelope
// @Failure      404  {object}  httputil.Envelope
// @Router       /api/v1/tracking/public/{controlNumber} [get]
// Public returns the redacted status view for a control number
func (h *Handlers) Public() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.tracker.Track(c.Request.Context(), c.Param("controlNumber"))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, view)
	}
}

// @Summary      My certificate requests
// @Tags         Tracking
// @Produce      json
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/tracking/my-requests [get]
// MyRequests lists the caller's own requests, newest first
func (h *Handlers) MyRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.tracker.MyRequests(c.Request.Context(), c.GetString(middleware.UserIDKey))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, gin.H{"certificates": items})
	}
}

// @Summary      My certificate request counts
// @Tags         Tracking
// @Produce      json
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/tracking/my-stats [get]
// MyStats returns the caller's request counts per status
func (h *Handlers) MyStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.tracker.MyStats(c.Request.Context(), c.GetString(middleware.UserIDKey))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, stats)
	}
}
