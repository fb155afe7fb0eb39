// Package users holds the tenant-scoped user model, the closed role
// hierarchy and the authorization rules over it.
package users

import (
	"fmt"
	"strings"
)

// Role is a privilege level in a total order. The numeric value is the rank:
// lower rank means higher privilege. Roles are parsed once at the boundary;
// everything past it works with this closed type.
type Role int

const (
	// RolePrimaryOwner is the apex role. Exactly one user per tenant holds
	// it at any committed point in time.
	RolePrimaryOwner Role = iota
	// RoleOwner is the elevated non-apex role the outgoing primary owner is
	// demoted to during an ownership transfer.
	RoleOwner
	// RoleAdmin manages users and projects below owner level.
	RoleAdmin
	// RoleUser is the lowest privilege rank. It may never act on another
	// account.
	RoleUser
)

var roleNames = map[Role]string{
	RolePrimaryOwner: "PrimaryOwner",
	RoleOwner:        "Owner",
	RoleAdmin:        "Admin",
	RoleUser:         "User",
}

// ParseRole converts a stored or submitted role name into a Role. Matching
// is case-insensitive to tolerate historical rows.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if strings.EqualFold(n, name) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// String returns the canonical role name.
func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Rank returns the numeric rank; lower is more privileged.
func (r Role) Rank() int { return int(r) }

// Valid reports whether the role is one of the defined ranks.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// IsApex reports whether the role is the tenant-scoped apex singleton.
func (r Role) IsApex() bool { return r == RolePrimaryOwner }
