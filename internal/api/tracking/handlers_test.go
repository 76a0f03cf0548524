package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/certificates"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTracker struct {
	views   map[string]*certificates.PublicView
	mine    map[string][]*models.CertificateRequest
	err     error
	gotUser string
}

func (f *fakeTracker) Track(_ context.Context, n string) (*certificates.PublicView, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.views[n]; ok {
		return v, nil
	}
	return nil, apperrors.NotFound("certificate request not found")
}

func (f *fakeTracker) MyRequests(_ context.Context, userID string) ([]*models.CertificateRequest, error) {
	f.gotUser = userID
	if f.err != nil {
		return nil, f.err
	}
	if items, ok := f.mine[userID]; ok {
		return items, nil
	}
	return []*models.CertificateRequest{}, nil
}

func (f *fakeTracker) MyStats(_ context.Context, userID string) (*certificates.Stats, error) {
	f.gotUser = userID
	if f.err != nil {
		return nil, f.err
	}
	stats := &certificates.Stats{ByStatus: map[models.CertificateStatus]int{}}
	for _, c := range f.mine[userID] {
		stats.ByStatus[c.Status]++
		stats.Total++
	}
	return stats, nil
}

func newRouter(tr Tracker, userID string) *gin.Engine {
	h := NewHandlers(tr)
	r := gin.New()
	r.GET("/tracking/public/:controlNumber", h.Public())
	mine := r.Group("/tracking")
	mine.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	mine.GET("/my-requests", h.MyRequests())
	mine.GET("/my-stats", h.MyStats())
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPublic(t *testing.T) {
	now := time.Now().UTC()
	tr := &fakeTracker{views: map[string]*certificates.PublicView{
		"IND01HZY": {ControlNumber: "IND01HZY", Type: models.CertificateTypeIndigency,
			Status: models.CertificateStatusApproved, SubmittedAt: now, UpdatedAt: now, RequesterName: "Juan D."},
	}}
	r := newRouter(tr, "")

	t.Run("found", func(t *testing.T) {
		w := get(r, "/tracking/public/IND01HZY")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status string         `json:"status"`
			Data   map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "success", body.Status)
		assert.Equal(t, "APPROVED", body.Data["status"])
		assert.Equal(t, "Juan D.", body.Data["requesterName"])
	})

	t.Run("unknown", func(t *testing.T) {
		w := get(r, "/tracking/public/NOPE")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"fail"`)
	})

	t.Run("store failure hides detail", func(t *testing.T) {
		r := newRouter(&fakeTracker{err: apperrors.Wrap(errors.New("connection reset"), "lookup failed")}, "")
		w := get(r, "/tracking/public/IND01HZY")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}

func TestMyRequests(t *testing.T) {
	tr := &fakeTracker{mine: map[string][]*models.CertificateRequest{
		"user-1": {
			{ID: "c1", Status: models.CertificateStatusRequested},
			{ID: "c2", Status: models.CertificateStatusReleased},
		},
	}}

	w := get(newRouter(tr, "user-1"), "/tracking/my-requests")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", tr.gotUser)

	var body struct {
		Data struct {
			Certificates []models.CertificateRequest `json:"certificates"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data.Certificates, 2)

	w = get(newRouter(tr, "user-2"), "/tracking/my-requests")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"certificates":[]`)
}

func TestMyRequests_Unauthenticated(t *testing.T) {
	tr := &fakeTracker{err: apperrors.Authentication("authentication required")}
	w := get(newRouter(tr, ""), "/tracking/my-requests")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMyStats(t *testing.T) {
	tr := &fakeTracker{mine: map[string][]*models.CertificateRequest{
		"user-1": {
			{ID: "c1", Status: models.CertificateStatusRequested},
			{ID: "c2", Status: models.CertificateStatusRequested},
			{ID: "c3", Status: models.CertificateStatusRejected},
		},
	}}

	w := get(newRouter(tr, "user-1"), "/tracking/my-stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data certificates.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.Total)
	assert.Equal(t, 2, body.Data.ByStatus[models.CertificateStatusRequested])
	assert.Equal(t, 1, body.Data.ByStatus[models.CertificateStatusRejected])
}
