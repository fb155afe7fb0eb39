// Package repository provides tenant-scoped persistence for users and role
// membership.
package repository

import (
	"context"
	"errors"

	"identity_backend/internal/tenants"
	"identity_backend/internal/users"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")
var ErrDuplicateEmail = errors.New("email already in use")

// Store is the per-tenant user and role store. Role membership add and
// remove are independent commits; the store offers no transaction spanning
// them, which is why the transfer saga carries its own compensation.
type Store interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (users.User, error)
	Create(ctx context.Context, user users.User, passwordHash string) (users.User, error)
	Update(ctx context.Context, user users.User) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddRole(ctx context.Context, userID uuid.UUID, role users.Role) error
	RemoveRole(ctx context.Context, userID uuid.UUID, role users.Role) error
	// ListRoles returns the user's role memberships. Exactly one element is
	// expected under the single-role invariant; callers treat anything else
	// as a data-integrity error.
	ListRoles(ctx context.Context, userID uuid.UUID) ([]users.Role, error)

	// Close releases the store's connections. A store is scoped to one unit
	// of work and must not be shared across tenants or kept beyond it.
	Close()
}

// Factory opens a store against one tenant's isolated scope. Passed by
// value to services; no ambient container involved.
type Factory func(ctx context.Context, tc tenants.TenantContext) (Store, error)
