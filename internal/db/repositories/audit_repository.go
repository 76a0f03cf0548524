// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit log entries with support for filtered queries across users and entities.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/barangay-registry/civil-registry/internal/db/models"
)

const auditColumns = `id, user_id, action, entity, entity_id, details, old_values, new_values,
	ip_address, user_agent, request_id, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID    *string
	Action    *string
	Entity    *string
	EntityID  *string
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateAuditLog creates a new audit log entry. ID and CreatedAt are assigned when empty.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.Action,
		log.Entity,
		log.EntityID,
		log.Details,
		nullJSON(log.OldValues),
		nullJSON(log.NewValues),
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// nullJSON maps an empty snapshot to SQL NULL instead of an invalid empty JSONB value
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(column string, value interface{}) {
		where += fmt.Sprintf(` AND %s $%d`, column, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if filters.UserID != nil {
		add("user_id =", *filters.UserID)
	}
	if filters.Action != nil {
		add("action =", *filters.Action)
	}
	if filters.Entity != nil {
		add("entity =", *filters.Entity)
	}
	if filters.EntityID != nil {
		add("entity_id =", *filters.EntityID)
	}
	if filters.StartDate != nil {
		add("created_at >=", *filters.StartDate)
	}
	if filters.EndDate != nil {
		add("created_at <=", *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// ListEntityHistory retrieves every audit entry recorded for one entity, newest first
func (r *AuditRepository) ListEntityHistory(ctx context.Context, entity, entityID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE entity = $1 AND entity_id = $2 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity history: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	log, err := scanAuditLog(r.db.QueryRowContext(ctx, query, logID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var oldValues, newValues []byte

	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.Action,
		&log.Entity,
		&log.EntityID,
		&log.Details,
		&oldValues,
		&newValues,
		&log.IPAddress,
		&log.UserAgent,
		&log.RequestID,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Copy JSONB columns; the driver may reuse the scan buffers
	if oldValues != nil {
		log.OldValues = append([]byte(nil), oldValues...)
	}
	if newValues != nil {
		log.NewValues = append([]byte(nil), newValues...)
	}
	return log, nil
}
