package actor

import (
	"github.com/google/uuid"
)

// Role of the authenticated caller, as asserted by the upstream auth layer
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgency   Role = "agency"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgency, RoleAdmin:
		return true
	}
	return false
}

// Actor is the identity on whose behalf an operation runs
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// System is used for operator and background flows such as the sweep
var System = Actor{ID: uuid.Nil, Role: RoleAdmin}
