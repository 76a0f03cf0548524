// Package auditlogs implements the ADMIN audit log search endpoint.
package auditlogs

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/certificates"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
)

// Store lists audit log entries
type Store interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// Handlers serves audit log endpoints
type Handlers struct {
	store Store
}

// NewHandlers creates audit log handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// @Summary      Search audit logs
// @Tags         Audit
// @Produce      json
// @Param        page       query  int     false  "Page number (default 1)"
// @Param        limit      query  int     false  "Page size, 1-100 (default 10)"
// @Param        userId     query  string  false  "Actor user ID"
// @Param        action     query  string  false  "CREATE or UPDATE"
// @Param        entity     query  string  false  "Entity name"
// @Param        entityId   query  string  false  "Entity ID"
// @Param        startDate  query  string  false  "RFC3339 lower bound"
// @Param        endDate    query  string  false  "RFC3339 upper bound"
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/audit-logs [get]
// List returns a filtered page of audit log entries, newest first
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, err := pagination(c)
		if err != nil {
			httputil.RespondError(c, err)
			return
		}

		filters, err := parseFilters(c)
		if err != nil {
			httputil.RespondError(c, err)
			return
		}

		logs, total, err := h.store.ListAuditLogs(c.Request.Context(), filters, limit, (page-1)*limit)
		if err != nil {
			httputil.RespondError(c, apperrors.Wrap(err, "failed to list audit logs"))
			return
		}

		httputil.Success(c, http.StatusOK, gin.H{
			"auditLogs": logs,
			"pagination": certificates.Pagination{
				Page:       page,
				Limit:      limit,
				Total:      total,
				TotalPages: (total + limit - 1) / limit,
			},
		})
	}
}

func pagination(c *gin.Context) (int, int, error) {
	page, limit := certificates.DefaultPage, certificates.DefaultLimit
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, apperrors.Validation("page must be a positive integer")
		}
		page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > certificates.MaxLimit {
			return 0, 0, apperrors.Validation("limit must be between 1 and %d", certificates.MaxLimit)
		}
		limit = n
	}
	return page, limit, nil
}

func parseFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var f repositories.AuditFilters
	str := func(name string) *string {
		if v := c.Query(name); v != "" {
			return &v
		}
		return nil
	}
	f.UserID = str("userId")
	f.Action = str("action")
	f.Entity = str("entity")
	f.EntityID = str("entityId")

	for name, dst := range map[string]**time.Time{"startDate": &f.StartDate, "endDate": &f.EndDate} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperrors.Validation("%s must be an RFC3339 timestamp", name)
		}
		*dst = &t
	}
	return f, nil
}
