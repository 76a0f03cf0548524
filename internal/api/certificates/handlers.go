// Package certificates implements the HTTP handlers for certificate requests under
// /api/v1/certificates. Business rules live in internal/certificates; handlers only bind
// input, pick the acting user from the auth context and write the response envelope.
package certificates

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/certificates"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/middleware"
)

// Workflow is the subset of the certificate service the handlers call
type Workflow interface {
	Create(ctx context.Context, actorID string, in certificates.CreateInput) (*models.CertificateRequest, error)
	Transition(ctx context.Context, actorID string, in certificates.TransitionInput) (*models.CertificateRequest, error)
	Get(ctx context.Context, actorID, id string) (*models.CertificateRequest, error)
	List(ctx context.Context, actorID string, p certificates.ListParams) (*certificates.Page, error)
	ListByPerson(ctx context.Context, actorID, personID string) ([]*models.CertificateRequest, error)
	History(ctx context.Context, actorID, id string) ([]*models.AuditLog, error)
}

// Handlers serves certificate request endpoints
type Handlers struct {
	workflow Workflow
}

// NewHandlers creates certificate handlers
func NewHandlers(workflow Workflow) *Handlers {
	return &Handlers{workflow: workflow}
}

// CreateRequest is the body of POST /certificates
type CreateRequest struct {
	Type     models.CertificateType `json:"type"`
	Purpose  string                 `json:"purpose"`
	PersonID string                 `json:"personId"`
	ORNumber *string                `json:"orNumber"`
	Amount   decimal.NullDecimal    `json:"amount"`
}

// UpdateStatusRequest is the body of PATCH /certificates/:id/status. The acting user is
// always taken from the token; an issuedBy field in the body is ignored.
type UpdateStatusRequest struct {
	Status   models.CertificateStatus `json:"status"`
	Remarks  *string                  `json:"remarks"`
	ORNumber *string                  `json:"orNumber"`
	Amount   decimal.NullDecimal      `json:"amount"`
}

// @Summary      List certificate requests
// @Tags         Certificates
// @Produce      json
// @Param        page    query  int     false  "Page number (default 1)"
// @Param        limit   query  int     false  "Page size, 1-100 (default 10)"
// @Param        status  query  string  false  "Filter by status"
// @Param        type    query  string  false  "Filter by certificate type"
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/certificates [get]
// List returns a page of certificate requests
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := parseListParams(c)
		if err != nil {
			httputil.RespondError(c, err)
			return
		}

		page, err := h.workflow.List(c.Request.Context(), actorID(c), params)
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, page)
	}
}

func parseListParams(c *gin.Context) (certificates.ListParams, error) {
	var p certificates.ListParams

	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return p, apperrors.Validation("page must be a positive integer")
		}
		p.Page = page
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return p, apperrors.Validation("limit must be a positive integer")
		}
		p.Limit = limit
	}
	if v := c.Query("status"); v != "" {
		status := models.CertificateStatus(v)
		p.Status = &status
	}
	if v := c.Query("type"); v != "" {
		ct := models.CertificateType(v)
		p.Type = &ct
	}
	return p, nil
}

// @Summary      Get a certificate request
// @Tags         Certificates
// @Produce      json
// @Param        id  path  string  true  "Certificate request ID"
// @Success      200  {object}  httputil.Envelope
// @Failure      404  {object}  httputil.Envelope
// @Router       /api/v1/certificates/{id} [get]
// Get returns one certificate request
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := h.workflow.Get(c.Request.Context(), actorID(c), c.Param("id"))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, req)
	}
}

// @Summary      List a resident's certificate requests
// @Tags         Certificates
// @Produce      json
// @Param        residentId  path  string  true  "Person ID"
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/certificates/resident/{residentId} [get]
// ListByResident returns every request filed for one person, newest first
func (h *Handlers) ListByResident() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.workflow.ListByPerson(c.Request.Context(), actorID(c), c.Param("residentId"))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, gin.H{"certificates": items})
	}
}

// @Summary      Request a certificate
// @Tags         Certificates
// @Accept       json
// @Produce      json
// @Param        body  body  CreateRequest  true  "Certificate request"
// @Success      201  {object}  httputil.Envelope
// @Failure      400  {object}  httputil.Envelope
// @Failure      404  {object}  httputil.Envelope  "Person not found"
// @Router       /api/v1/certificates [post]
// Create files a new certificate request
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body CreateRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			httputil.RespondError(c, apperrors.Validation("invalid request body: %v", err))
			return
		}

		req, err := h.workflow.Create(c.Request.Context(), actorID(c), certificates.CreateInput{
			Type:     body.Type,
			Purpose:  body.Purpose,
			PersonID: body.PersonID,
			ORNumber: body.ORNumber,
			Amount:   body.Amount,
		})
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusCreated, req)
	}
}

// @Summary      Change certificate status
// @Tags         Certificates
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Certificate request ID"
// @Param        body  body  UpdateStatusRequest  true  "Target status"
// @Success      200  {object}  httputil.Envelope
// @Failure      409  {object}  httputil.Envelope  "Transition not allowed"
// @Router       /api/v1/certificates/{id}/status [patch]
// UpdateStatus transitions a certificate request. ADMIN/STAFF only.
func (h *Handlers) UpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body UpdateStatusRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			httputil.RespondError(c, apperrors.Validation("invalid request body: %v", err))
			return
		}

		req, err := h.workflow.Transition(c.Request.Context(), actorID(c), certificates.TransitionInput{
			ID:       c.Param("id"),
			Status:   body.Status,
			Remarks:  body.Remarks,
			ORNumber: body.ORNumber,
			Amount:   body.Amount,
		})
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, req)
	}
}

// @Summary      Certificate audit history
// @Tags         Certificates
// @Produce      json
// @Param        id  path  string  true  "Certificate request ID"
// @Success      200  {object}  httputil.Envelope
// @Router       /api/v1/certificates/{id}/audit [get]
// History returns the audit entries of one certificate request, newest first
func (h *Handlers) History() gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := h.workflow.History(c.Request.Context(), actorID(c), c.Param("id"))
		if err != nil {
			httputil.RespondError(c, err)
			return
		}
		httputil.Success(c, http.StatusOK, gin.H{"auditLogs": logs})
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
