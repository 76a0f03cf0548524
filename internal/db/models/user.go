// Package models - user.go defines the User model for login identities and the
// closed set of roles that gate the certificate workflow.
package models

import "time"

// Role is the authorization role held by a user
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
	RoleResident Role = "RESIDENT"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleResident:
		return true
	}
	return false
}

// IsStaff reports whether r may process certificate requests
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleStaff
}

// User represents a login identity
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
