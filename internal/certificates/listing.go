package certificates

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListParams selects one page of certificate requests
type ListParams struct {
	Page   int
	Limit  int
	Status *models.CertificateStatus
	Type   *models.CertificateType
}

// Pagination describes the position of a page within the full result
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a paginated list of certificate requests
type Page struct {
	Certificates []*models.CertificateRequest `json:"certificates"`
	Pagination   Pagination                   `json:"pagination"`
}

// Stats holds per-status request counts. Every status is present, zero when unused.
type Stats struct {
	ByStatus map[models.CertificateStatus]int `json:"byStatus"`
	Total    int                              `json:"total"`
}

// List returns a page of requests. Residents only see requests filed for their own person.
func (s *Service) List(ctx context.Context, actorID string, p ListParams) (*Page, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Page < 1 {
		return nil, apperrors.Validation("page must be at least 1")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return nil, apperrors.Validation("limit must be between 1 and %d", MaxLimit)
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperrors.Validation("invalid status %q", *p.Status)
	}
	if p.Type != nil && !p.Type.Valid() {
		return nil, apperrors.Validation("invalid certificate type %q", *p.Type)
	}

	filters := repositories.CertificateFilters{Status: p.Status, Type: p.Type}
	if !actor.Role.IsStaff() {
		person, err := s.persons.GetByUserID(ctx, actor.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to look up linked person")
		}
		if person == nil {
			return emptyPage(p), nil
		}
		filters.PersonID = &person.ID
	}

	items, total, err := s.certs.List(ctx, filters, p.Limit, (p.Page-1)*p.Limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list certificate requests")
	}

	return &Page{
		Certificates: items,
		Pagination: Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: (total + p.Limit - 1) / p.Limit,
		},
	}, nil
}

func emptyPage(p ListParams) *Page {
	return &Page{
		Certificates: []*models.CertificateRequest{},
		Pagination:   Pagination{Page: p.Page, Limit: p.Limit},
	}
}

// ListByPerson returns every request filed for personID, newest first
func (s *Service) ListByPerson(ctx context.Context, actorID, personID string) ([]*models.CertificateRequest, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(personID); err != nil {
		return nil, apperrors.Validation("personId must be a valid UUID")
	}

	person, err := s.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up person")
	}
	if person == nil {
		return nil, apperrors.NotFound("person %s not found", personID)
	}
	if err := s.authorizePerson(ctx, actor, person.ID); err != nil {
		return nil, err
	}

	items, err := s.certs.ListByPerson(ctx, person.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list certificate requests")
	}
	return items, nil
}

// MyRequests returns the requests of the person linked to userID. A user without a linked
// person gets an empty list.
func (s *Service) MyRequests(ctx context.Context, userID string) ([]*models.CertificateRequest, error) {
	person, err := s.linkedPerson(ctx, userID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return []*models.CertificateRequest{}, nil
	}

	items, err := s.certs.ListByPerson(ctx, person.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list certificate requests")
	}
	return items, nil
}

// MyStats counts the requests of the person linked to userID by status
func (s *Service) MyStats(ctx context.Context, userID string) (*Stats, error) {
	person, err := s.linkedPerson(ctx, userID)
	if err != nil {
		return nil, err
	}

	counts := map[models.CertificateStatus]int{}
	if person != nil {
		counts, err = s.certs.CountByStatus(ctx, person.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to count certificate requests")
		}
	}

	byStatus := lo.SliceToMap(models.CertificateStatuses, func(st models.CertificateStatus) (models.CertificateStatus, int) {
		return st, counts[st]
	})
	return &Stats{
		ByStatus: byStatus,
		Total:    lo.Sum(lo.Values(byStatus)),
	}, nil
}

func (s *Service) linkedPerson(ctx context.Context, userID string) (*models.Person, error) {
	if userID == "" {
		return nil, apperrors.Authentication("authentication required")
	}
	person, err := s.persons.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up linked person")
	}
	return person, nil
}

// History returns the audit trail of one request, newest first. Staff only.
func (s *Service) History(ctx context.Context, actorID, id string) ([]*models.AuditLog, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() {
		return nil, apperrors.Authorization("only staff may view certificate history")
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

	logs, err := s.history.ListEntityHistory(ctx, models.AuditEntityCertificate, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load certificate history")
	}
	return logs, nil
}
