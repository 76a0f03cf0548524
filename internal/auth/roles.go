// Package auth - roles.go holds role allow-list checks shared by the middleware and the workflow.
package auth

import "github.com/barangay-registry/civil-registry/internal/db/models"

// StaffRoles may process certificate requests
var StaffRoles = []models.Role{models.RoleAdmin, models.RoleStaff}

// HasAnyRole reports whether role is one of allowed
func HasAnyRole(role models.Role, allowed ...models.Role) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}
