// Package models - person.go defines the Person record a certificate request is filed for.
// A person may be linked to at most one user account.
package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Person represents a registered resident
type Person struct {
	ID            string    `db:"id" json:"id"`
	UserID        *string   `db:"user_id" json:"userId,omitempty"`
	FirstName     string    `db:"first_name" json:"firstName"`
	MiddleName    *string   `db:"middle_name" json:"middleName,omitempty"`
	LastName      string    `db:"last_name" json:"lastName"`
	Address       *string   `db:"address" json:"address,omitempty"`
	ContactNumber *string   `db:"contact_number" json:"contactNumber,omitempty"`
	HouseholdID   *string   `db:"household_id" json:"householdId,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// MaskedName returns the first name followed by the last-name initial ("Juan D.").
func (p *Person) MaskedName() string {
	first := strings.TrimSpace(p.FirstName)
	last := strings.TrimSpace(p.LastName)
	if last == "" {
		return first
	}
	r, _ := utf8.DecodeRuneInString(last)
	initial := strings.ToUpper(string(r)) + "."
	if first == "" {
		return initial
	}
	return first + " " + initial
}
