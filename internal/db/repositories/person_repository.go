// person_repository.go implements PersonRepository, the read side of the resident registry
// the certificate workflow depends on: existence checks and the user-to-person link.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/barangay-registry/civil-registry/internal/db/models"
)

const personColumns = `id, user_id, first_name, middle_name, last_name, address, contact_number, household_id, created_at, updated_at`

// PersonRepository handles person database operations
type PersonRepository struct {
	db *sqlx.DB
}

// NewPersonRepository creates a new person repository
func NewPersonRepository(db *sqlx.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// GetByID retrieves a person by ID
func (r *PersonRepository) GetByID(ctx context.Context, id string) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE id = $1`

	var person models.Person
	err := r.db.GetContext(ctx, &person, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return &person, nil
}

// GetByUserID retrieves the person linked to a user account
func (r *PersonRepository) GetByUserID(ctx context.Context, userID string) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE user_id = $1`

	var person models.Person
	err := r.db.GetContext(ctx, &person, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person by user: %w", err)
	}
	return &person, nil
}
