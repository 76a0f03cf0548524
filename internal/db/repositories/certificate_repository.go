// certificate_repository.go implements CertificateRepository, providing database queries for
// certificate requests: inserts guarded by the control number unique constraint, conditional
// status updates, filtered pagination and per-person aggregation.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/barangay-registry/civil-registry/internal/db/models"
)

const (
	pqUniqueViolation          = "23505"
	controlNumberConstraintKey = "certificate_requests_control_number_key"
)

// ErrDuplicateControlNumber is returned by Create when the control number is already taken
var ErrDuplicateControlNumber = errors.New("duplicate control number")

const certificateColumns = `id, person_id, type, purpose, status, control_number, or_number, amount,
	remarks, issued_by, created_at, updated_at`

// CertificateRepository handles certificate request database operations
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository creates a new certificate repository
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// CertificateFilters contains filters for listing certificate requests
type CertificateFilters struct {
	PersonID *string
	Status   *models.CertificateStatus
	Type     *models.CertificateType
}

// StatusUpdate describes a conditional status change. The update applies only while
// the stored status still equals From.
type StatusUpdate struct {
	ID       string
	From     models.CertificateStatus
	To       models.CertificateStatus
	IssuedBy string
	Remarks  *string
	ORNumber *string
	Amount   decimal.NullDecimal
}

// Create inserts a new certificate request. The caller assigns ID and ControlNumber.
func (r *CertificateRepository) Create(ctx context.Context, req *models.CertificateRequest) error {
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO certificate_requests (
			id, person_id, type, purpose, status, control_number, or_number, amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.PersonID,
		req.Type,
		req.Purpose,
		req.Status,
		req.ControlNumber,
		req.ORNumber,
		req.Amount,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if isControlNumberViolation(err) {
		return ErrDuplicateControlNumber
	}
	if err != nil {
		return fmt.Errorf("failed to create certificate request: %w", err)
	}
	return nil
}

func isControlNumberViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == controlNumberConstraintKey
}

// GetByID retrieves a certificate request by ID
func (r *CertificateRepository) GetByID(ctx context.Context, id string) (*models.CertificateRequest, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificate_requests WHERE id = $1`
	return r.get(ctx, query, id)
}

// GetByControlNumber retrieves a certificate request by exact control number
func (r *CertificateRepository) GetByControlNumber(ctx context.Context, controlNumber string) (*models.CertificateRequest, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificate_requests WHERE control_number = $1`
	return r.get(ctx, query, controlNumber)
}

func (r *CertificateRepository) get(ctx context.Context, query string, arg interface{}) (*models.CertificateRequest, error) {
	var req models.CertificateRequest
	err := r.db.GetContext(ctx, &req, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate request: %w", err)
	}
	return &req, nil
}

// UpdateStatusIfCurrent applies upd only if the stored status still equals upd.From.
// It returns the updated row, or nil when the guard did not match (the row is missing
// or another writer changed its status first). Optional fields left nil keep their value.
func (r *CertificateRepository) UpdateStatusIfCurrent(ctx context.Context, upd StatusUpdate) (*models.CertificateRequest, error) {
	query := `
		UPDATE certificate_requests
		SET status = $3,
		    issued_by = $4,
		    remarks = COALESCE($5, remarks),
		    or_number = COALESCE($6, or_number),
		    amount = COALESCE($7, amount),
		    updated_at = $8
		WHERE id = $1 AND status = $2
		RETURNING ` + certificateColumns

	var req models.CertificateRequest
	err := r.db.GetContext(ctx, &req, query,
		upd.ID,
		upd.From,
		upd.To,
		upd.IssuedBy,
		upd.Remarks,
		upd.ORNumber,
		upd.Amount,
		time.Now(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update certificate status: %w", err)
	}
	return &req, nil
}

// List retrieves certificate requests matching filters, newest first, with pagination
func (r *CertificateRepository) List(ctx context.Context, filters CertificateFilters, limit, offset int) ([]*models.CertificateRequest, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.PersonID != nil {
		where += fmt.Sprintf(` AND person_id = $%d`, paramIndex)
		args = append(args, *filters.PersonID)
		paramIndex++
	}

	if filters.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}

	if filters.Type != nil {
		where += fmt.Sprintf(` AND type = $%d`, paramIndex)
		args = append(args, *filters.Type)
		paramIndex++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM certificate_requests`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count certificate requests: %w", err)
	}

	query := `SELECT ` + certificateColumns + ` FROM certificate_requests` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	requests := make([]*models.CertificateRequest, 0)
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list certificate requests: %w", err)
	}
	return requests, total, nil
}

// ListByPerson retrieves every certificate request filed for a person, newest first
func (r *CertificateRepository) ListByPerson(ctx context.Context, personID string) ([]*models.CertificateRequest, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificate_requests WHERE person_id = $1 ORDER BY created_at DESC`

	requests := make([]*models.CertificateRequest, 0)
	if err := r.db.SelectContext(ctx, &requests, query, personID); err != nil {
		return nil, fmt.Errorf("failed to list certificate requests for person: %w", err)
	}
	return requests, nil
}

type statusCount struct {
	Status models.CertificateStatus `db:"status"`
	Count  int                      `db:"count"`
}

// CountByStatus returns the number of requests per status for a person.
// Statuses with no requests are absent from the map.
func (r *CertificateRepository) CountByStatus(ctx context.Context, personID string) (map[models.CertificateStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM certificate_requests
		WHERE person_id = $1
		GROUP BY status
	`

	var rows []statusCount
	if err := r.db.SelectContext(ctx, &rows, query, personID); err != nil {
		return nil, fmt.Errorf("failed to count certificate requests by status: %w", err)
	}

	counts := make(map[models.CertificateStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
