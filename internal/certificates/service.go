// Package certificates implements the certificate request workflow: creation with unique
// control numbers, role-gated status transitions guarded by the expected current status,
// public tracking lookups and per-user listings. Every successful mutation is handed to an
// audit.Recorder after the write has committed.
package certificates

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/audit"
	"github.com/barangay-registry/civil-registry/internal/auth"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
	"github.com/barangay-registry/civil-registry/internal/telemetry"
)

const (
	// MaxPurposeLength bounds the purpose text in characters
	MaxPurposeLength = 500
	// MaxORNumberLength bounds the official receipt number
	MaxORNumberLength = 50

	DefaultControlNumberAttempts = 5
	DefaultTransitionAttempts    = 3
)

// Stores groups the persistence collaborators of the workflow
type Stores struct {
	Certificates CertificateStore
	Persons      PersonStore
	Users        UserStore
	History      HistoryStore
}

// Options tunes the retry budgets. Zero values fall back to the defaults.
type Options struct {
	MaxControlNumberAttempts int
	MaxTransitionAttempts    int
	Generator                Generator
}

// Service runs the certificate workflow
type Service struct {
	certs    CertificateStore
	persons  PersonStore
	users    UserStore
	history  HistoryStore
	numbers  Generator
	recorder audit.Recorder

	maxNumberAttempts     int
	maxTransitionAttempts int
}

// NewService creates a certificate workflow service. recorder may be nil to disable auditing.
func NewService(stores Stores, recorder audit.Recorder, opts Options) *Service {
	s := &Service{
		certs:                 stores.Certificates,
		persons:               stores.Persons,
		users:                 stores.Users,
		history:               stores.History,
		numbers:               opts.Generator,
		recorder:              recorder,
		maxNumberAttempts:     opts.MaxControlNumberAttempts,
		maxTransitionAttempts: opts.MaxTransitionAttempts,
	}
	if s.numbers == nil {
		s.numbers = NewULIDGenerator()
	}
	if s.maxNumberAttempts <= 0 {
		s.maxNumberAttempts = DefaultControlNumberAttempts
	}
	if s.maxTransitionAttempts <= 0 {
		s.maxTransitionAttempts = DefaultTransitionAttempts
	}
	return s
}

// CreateInput is a new certificate request
type CreateInput struct {
	Type     models.CertificateType
	Purpose  string
	PersonID string
	ORNumber *string
	Amount   decimal.NullDecimal
}

// TransitionInput is a status change requested by staff
type TransitionInput struct {
	ID       string
	Status   models.CertificateStatus
	Remarks  *string
	ORNumber *string
	Amount   decimal.NullDecimal
}

// Create validates and persists a new certificate request in REQUESTED status
func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*models.CertificateRequest, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	purpose, err := validateCreate(in)
	if err != nil {
		return nil, err
	}

	person, err := s.persons.GetByID(ctx, in.PersonID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up person")
	}
	if person == nil {
		return nil, apperrors.NotFound("person %s not found", in.PersonID)
	}
	if err := s.authorizePerson(ctx, actor, person.ID); err != nil {
		return nil, err
	}

	req := &models.CertificateRequest{
		ID:       uuid.New().String(),
		PersonID: person.ID,
		Type:     in.Type,
		Purpose:  purpose,
		Status:   models.CertificateStatusRequested,
		ORNumber: in.ORNumber,
		Amount:   in.Amount,
	}

	if err := s.insertWithControlNumber(ctx, req); err != nil {
		return nil, err
	}

	telemetry.CertificateRequestsCreatedTotal.WithLabelValues(string(req.Type)).Inc()
	slog.Info("certificate request created",
		"certificate_id", req.ID, "control_number", req.ControlNumber, "type", req.Type, "actor_id", actor.ID)

	s.record(ctx, audit.Event{
		ActorID:  &actor.ID,
		Action:   models.AuditActionCreate,
		Entity:   models.AuditEntityCertificate,
		EntityID: req.ID,
		Details:  "certificate request created",
		New:      req,
	})

	return req, nil
}

func validateCreate(in CreateInput) (string, error) {
	if !in.Type.Valid() {
		return "", apperrors.Validation("invalid certificate type %q", in.Type)
	}

	purpose := strings.TrimSpace(in.Purpose)
	if purpose == "" {
		return "", apperrors.Validation("purpose is required")
	}
	if utf8.RuneCountInString(purpose) > MaxPurposeLength {
		return "", apperrors.Validation("purpose must be at most %d characters", MaxPurposeLength)
	}

	if _, err := uuid.Parse(in.PersonID); err != nil {
		return "", apperrors.Validation("personId must be a valid UUID")
	}

	if err := validatePayment(in.ORNumber, in.Amount); err != nil {
		return "", err
	}
	return purpose, nil
}

func validatePayment(orNumber *string, amount decimal.NullDecimal) error {
	if amount.Valid {
		if amount.Decimal.IsNegative() {
			return apperrors.Validation("amount must not be negative")
		}
		if !amount.Decimal.Equal(amount.Decimal.Round(2)) {
			return apperrors.Validation("amount must have at most two decimal places")
		}
	}
	if orNumber != nil && utf8.RuneCountInString(*orNumber) > MaxORNumberLength {
		return apperrors.Validation("orNumber must be at most %d characters", MaxORNumberLength)
	}
	return nil
}

// insertWithControlNumber assigns a control number and inserts req, regenerating the
// number when the store reports a collision.
func (s *Service) insertWithControlNumber(ctx context.Context, req *models.CertificateRequest) error {
	for attempt := 1; attempt <= s.maxNumberAttempts; attempt++ {
		number, err := s.numbers.Next(req.Type)
		if err != nil {
			return apperrors.Wrap(err, "failed to generate control number")
		}
		req.ControlNumber = number

		err = s.certs.Create(ctx, req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrDuplicateControlNumber) {
			return apperrors.Wrap(err, "failed to create certificate request")
		}

		telemetry.ControlNumberCollisionsTotal.Inc()
		slog.Warn("control number collision, regenerating", "control_number", number, "attempt", attempt)
	}
	return apperrors.Conflict("could not allocate a unique control number after %d attempts", s.maxNumberAttempts)
}

// Transition moves a request to a new status. Only active ADMIN or STAFF accounts may do so.
func (s *Service) Transition(ctx context.Context, actorID string, in TransitionInput) (*models.CertificateRequest, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !auth.HasAnyRole(actor.Role, auth.StaffRoles...) {
		return nil, apperrors.Authorization("only staff may change certificate status")
	}

	if _, err := uuid.Parse(in.ID); err != nil {
		return nil, apperrors.Validation("id must be a valid UUID")
	}
	if !in.Status.Valid() {
		return nil, apperrors.Validation("invalid status %q", in.Status)
	}
	if err := validatePayment(in.ORNumber, in.Amount); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxTransitionAttempts; attempt++ {
		current, err := s.certs.GetByID(ctx, in.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to look up certificate request")
		}
		if current == nil {
			return nil, apperrors.NotFound("certificate request %s not found", in.ID)
		}
		if !CanTransition(current.Status, in.Status) {
			return nil, apperrors.Conflict("cannot change status from %s to %s", current.Status, in.Status)
		}

		updated, err := s.certs.UpdateStatusIfCurrent(ctx, repositories.StatusUpdate{
			ID:       current.ID,
			From:     current.Status,
			To:       in.Status,
			IssuedBy: actor.ID,
			Remarks:  in.Remarks,
			ORNumber: in.ORNumber,
			Amount:   in.Amount,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to update certificate status")
		}
		if updated == nil {
			slog.Debug("certificate status changed concurrently, re-reading",
				"certificate_id", in.ID, "expected", current.Status, "attempt", attempt)
			continue
		}

		telemetry.CertificateStatusTransitionsTotal.WithLabelValues(string(current.Status), string(updated.Status)).Inc()
		slog.Info("certificate status changed",
			"certificate_id", updated.ID, "from", current.Status, "to", updated.Status, "actor_id", actor.ID)

		s.record(ctx, audit.Event{
			ActorID:  &actor.ID,
			Action:   models.AuditActionUpdate,
			Entity:   models.AuditEntityCertificate,
			EntityID: updated.ID,
			Details:  "status changed from " + string(current.Status) + " to " + string(updated.Status),
			Old:      current,
			New:      updated,
		})
		return updated, nil
	}

	return nil, apperrors.Conflict("certificate request %s was modified concurrently, try again", in.ID)
}

// Get returns one request. Residents may only read requests filed for their own person.
func (s *Service) Get(ctx context.Context, actorID, id string) (*models.CertificateRequest, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.Validation("id must be a valid UUID")
	}

	req, err := s.certs.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up certificate request")
	}
	if req == nil {
		return nil, apperrors.NotFound("certificate request %s not found", id)
	}
	if err := s.authorizePerson(ctx, actor, req.PersonID); err != nil {
		return nil, err
	}
	return req, nil
}

// loadActor resolves the acting user from the identity store. Role claims carried by the
// caller are never consulted.
func (s *Service) loadActor(ctx context.Context, actorID string) (*models.User, error) {
	if actorID == "" {
		return nil, apperrors.Authentication("authentication required")
	}
	user, err := s.users.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up user")
	}
	if user == nil || !user.IsActive {
		return nil, apperrors.Authentication("user not found or inactive")
	}
	return user, nil
}

// authorizePerson allows staff through and restricts residents to their linked person
func (s *Service) authorizePerson(ctx context.Context, actor *models.User, personID string) error {
	if actor.Role.IsStaff() {
		return nil
	}
	own, err := s.persons.GetByUserID(ctx, actor.ID)
	if err != nil {
		return apperrors.Wrap(err, "failed to look up linked person")
	}
	if own == nil || own.ID != personID {
		return apperrors.Authorization("residents may only access their own certificate requests")
	}
	return nil
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, ev)
}
