package certificates

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/telemetry"
)

// MaxControlNumberLength bounds tracking input before it reaches the store
const MaxControlNumberLength = 64

var controlNumberPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// PublicView is the redacted status of a request shown to unauthenticated callers
type PublicView struct {
	ControlNumber string                   `json:"controlNumber"`
	Type          models.CertificateType   `json:"type"`
	Status        models.CertificateStatus `json:"status"`
	SubmittedAt   time.Time                `json:"submittedAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	RequesterName string                   `json:"requesterName"`
}

// Track looks up a request by its exact control number. Malformed numbers are reported
// as not found, the same as unknown ones.
func (s *Service) Track(ctx context.Context, controlNumber string) (*PublicView, error) {
	if !validControlNumber(controlNumber) {
		telemetry.TrackingLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, apperrors.NotFound("certificate request not found")
	}

	req, err := s.certs.GetByControlNumber(ctx, controlNumber)
	if err != nil {
		telemetry.TrackingLookupsTotal.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(err, "failed to look up control number")
	}
	if req == nil {
		telemetry.TrackingLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, apperrors.NotFound("certificate request not found")
	}

	view := &PublicView{
		ControlNumber: req.ControlNumber,
		Type:          req.Type,
		Status:        req.Status,
		SubmittedAt:   req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}

	person, err := s.persons.GetByID(ctx, req.PersonID)
	if err != nil {
		slog.Warn("failed to load requester for tracking view", "certificate_id", req.ID, "error", err)
	} else if person != nil {
		view.RequesterName = person.MaskedName()
	}

	telemetry.TrackingLookupsTotal.WithLabelValues("found").Inc()
	return view, nil
}

func validControlNumber(s string) bool {
	return len(s) > 0 && len(s) <= MaxControlNumberLength && controlNumberPattern.MatchString(s)
}
