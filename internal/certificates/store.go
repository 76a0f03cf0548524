package certificates

import (
	"context"

	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
)

// CertificateStore persists certificate requests. Lookups return (nil, nil) when nothing matches.
type CertificateStore interface {
	Create(ctx context.Context, req *models.CertificateRequest) error
	GetByID(ctx context.Context, id string) (*models.CertificateRequest, error)
	GetByControlNumber(ctx context.Context, controlNumber string) (*models.CertificateRequest, error)
	UpdateStatusIfCurrent(ctx context.Context, upd repositories.StatusUpdate) (*models.CertificateRequest, error)
	List(ctx context.Context, filters repositories.CertificateFilters, limit, offset int) ([]*models.CertificateRequest, int, error)
	ListByPerson(ctx context.Context, personID string) ([]*models.CertificateRequest, error)
	CountByStatus(ctx context.Context, personID string) (map[models.CertificateStatus]int, error)
}

// PersonStore reads person records
type PersonStore interface {
	GetByID(ctx context.Context, id string) (*models.Person, error)
	GetByUserID(ctx context.Context, userID string) (*models.Person, error)
}

// UserStore reads user accounts
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// HistoryStore reads the audit trail of one entity
type HistoryStore interface {
	ListEntityHistory(ctx context.Context, entity, entityID string) ([]*models.AuditLog, error)
}
