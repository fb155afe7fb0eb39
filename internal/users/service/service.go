// Package service implements the privileged user-management commands. Every
// mutating operation resolves the tenant scope first and passes the role
// hierarchy check before touching the store.
package service

import (
	"context"
	"errors"
	"fmt"

	"identity_backend/internal/events"
	"identity_backend/internal/tenants"
	"identity_backend/internal/users"
	"identity_backend/internal/users/password"
	"identity_backend/internal/users/repository"
	"identity_backend/platform/apperr"
	"identity_backend/platform/logger"

	"github.com/google/uuid"
)

// ContextResolver supplies tenant contexts. Satisfied by the tenants
// resolver; narrowed to what this service needs.
type ContextResolver interface {
	ResolveByID(ctx context.Context, tenantID string) (tenants.TenantContext, error)
}

// Service executes user-management commands against tenant-scoped stores.
type Service struct {
	resolver  ContextResolver
	stores    repository.Factory
	publisher events.Publisher
	log       *logger.Logger
}

// New creates the user management service.
func New(resolver ContextResolver, stores repository.Factory, publisher events.Publisher, log *logger.Logger) *Service {
	return &Service{resolver: resolver, stores: stores, publisher: publisher, log: log}
}

// CreateUserParams carries the create-user command payload.
type CreateUserParams struct {
	TenantID           string
	Email              string
	FirstName          string
	LastName           string
	PlainPassword      string
	Role               string
	AuthorizedProjects []string
}

// CreateUser creates a user and assigns its initial role. The apex role is
// never assignable here; it exists only through tenant initialization and
// the ownership transfer saga.
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams) (users.User, error) {
	role, err := users.ParseRole(p.Role)
	if err != nil {
		return users.User{}, apperr.ConstraintViolation("the role is not a system role")
	}
	if role.IsApex() {
		return users.User{}, apperr.AuthorizationDenied("the primary owner role cannot be assigned directly")
	}

	store, err := s.openStore(ctx, p.TenantID)
	if err != nil {
		return users.User{}, err
	}
	defer store.Close()

	hash, err := password.Hash(p.PlainPassword)
	if err != nil {
		return users.User{}, apperr.Wrap(apperr.KindInternal, "hashing password", err)
	}

	created, err := store.Create(ctx, users.User{
		ID:                 uuid.New(),
		Email:              p.Email,
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		TenantID:           p.TenantID,
		AuthorizedProjects: p.AuthorizedProjects,
	}, hash)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return users.User{}, apperr.ConstraintViolation("a user with this email already exists")
	}
	if err != nil {
		return users.User{}, apperr.Wrap(apperr.KindInternal, "creating user", err)
	}

	if err := store.AddRole(ctx, created.ID, role); err != nil {
		// Leave no half-created account behind.
		if delErr := store.Delete(ctx, created.ID); delErr != nil {
			s.log.IntegrityError(p.TenantID, "user created without role and cleanup failed", delErr)
		}
		return users.User{}, apperr.Wrap(apperr.KindInternal, "assigning initial role", err)
	}

	s.publisher.Publish(ctx, events.UserCreated{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  p.TenantID,
		UserID:    created.ID,
		Email:     created.Email,
		Role:      role.String(),
	})

	return created, nil
}

// DeleteUser removes another user's account after the hierarchy check.
func (s *Service) DeleteUser(ctx context.Context, tenantID, commandingEmail, email string) error {
	store, err := s.openStore(ctx, tenantID)
	if err != nil {
		return err
	}
	defer store.Close()

	recipient, recipientRole, err := s.userWithRole(ctx, store, tenantID, email)
	if err != nil {
		return err
	}
	_, commandingRole, err := s.userWithRole(ctx, store, tenantID, commandingEmail)
	if err != nil {
		return err
	}

	allowed := users.CanAct(commandingRole, recipientRole)
	s.log.AuthzEvent("delete_user", tenantID, commandingEmail, allowed)
	if !allowed {
		return apperr.AuthorizationDenied("you are forbidden from performing this action")
	}

	if err := store.Delete(ctx, recipient.ID); err != nil {
		return apperr.Wrap(apperr.KindInternal, "deleting user", err)
	}

	s.publisher.Publish(ctx, events.UserDeleted{
		BaseEvent:       events.NewBaseEvent(),
		TenantID:        tenantID,
		UserID:          recipient.ID,
		Email:           recipient.Email,
		CommandingEmail: commandingEmail,
	})

	return nil
}

// DeleteAccount removes the caller's own account. Self-deletion still runs
// the hierarchy check, so the lowest rank cannot remove itself.
func (s *Service) DeleteAccount(ctx context.Context, tenantID, email string) error {
	store, err := s.openStore(ctx, tenantID)
	if err != nil {
		return err
	}
	defer store.Close()

	user, role, err := s.userWithRole(ctx, store, tenantID, email)
	if err != nil {
		return err
	}

	allowed := users.CanAct(role, role)
	s.log.AuthzEvent("delete_account", tenantID, email, allowed)
	if !allowed {
		return apperr.AuthorizationDenied("you are forbidden from performing this action")
	}

	if err := store.Delete(ctx, user.ID); err != nil {
		return apperr.Wrap(apperr.KindInternal, "deleting account", err)
	}

	s.publisher.Publish(ctx, events.AccountDeleted{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		UserID:    user.ID,
		Email:     user.Email,
	})

	return nil
}

// UpdateUserRole moves a user to a new role. The apex role is out of reach
// here; it only moves through the ownership transfer saga.
func (s *Service) UpdateUserRole(ctx context.Context, tenantID, commandingEmail, email, newRoleName string) error {
	newRole, err := users.ParseRole(newRoleName)
	if err != nil {
		return apperr.ConstraintViolation("the role is not a system role")
	}
	if newRole.IsApex() {
		return apperr.AuthorizationDenied("the primary owner role cannot be assigned directly")
	}

	store, err := s.openStore(ctx, tenantID)
	if err != nil {
		return err
	}
	defer store.Close()

	recipient, currentRole, err := s.userWithRole(ctx, store, tenantID, email)
	if err != nil {
		return err
	}
	_, commandingRole, err := s.userWithRole(ctx, store, tenantID, commandingEmail)
	if err != nil {
		return err
	}

	// The commanding user must outrank both the role being taken away and
	// the role being granted.
	allowed := users.CanAct(commandingRole, currentRole) && users.CanAct(commandingRole, newRole)
	s.log.AuthzEvent("update_role", tenantID, commandingEmail, allowed)
	if !allowed {
		return apperr.AuthorizationDenied("unauthorized to make changes to the requested user")
	}

	if newRole == currentRole {
		return nil
	}

	if err := store.RemoveRole(ctx, recipient.ID, currentRole); err != nil {
		return apperr.Wrap(apperr.KindInternal, "removing current role", err)
	}
	if err := store.AddRole(ctx, recipient.ID, newRole); err != nil {
		if undoErr := store.AddRole(ctx, recipient.ID, currentRole); undoErr != nil {
			s.log.IntegrityError(tenantID, fmt.Sprintf("user %s left without a role after failed role update", email), undoErr)
			return apperr.Integrity("role update failed and the previous role could not be restored")
		}
		return apperr.Wrap(apperr.KindInternal, "assigning new role", err)
	}

	s.publisher.Publish(ctx, events.UserRoleUpdated{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		UserID:    recipient.ID,
		Email:     recipient.Email,
		Role:      newRole.String(),
	})

	return nil
}

// UpdateUserPermissions replaces a user's authorized project set. Owners and
// the primary owner implicitly hold every project, so their sets are not
// editable.
func (s *Service) UpdateUserPermissions(ctx context.Context, tenantID, commandingEmail, email string, projects []string) error {
	store, err := s.openStore(ctx, tenantID)
	if err != nil {
		return err
	}
	defer store.Close()

	recipient, recipientRole, err := s.userWithRole(ctx, store, tenantID, email)
	if err != nil {
		return err
	}
	_, commandingRole, err := s.userWithRole(ctx, store, tenantID, commandingEmail)
	if err != nil {
		return err
	}

	allowed := users.CanAct(commandingRole, recipientRole)
	s.log.AuthzEvent("update_permissions", tenantID, commandingEmail, allowed)
	if !allowed {
		return apperr.AuthorizationDenied("unauthorized to make changes to the requested user")
	}

	if recipientRole.Rank() <= users.RoleOwner.Rank() {
		return apperr.ConstraintViolation("project permissions do not apply to owner roles")
	}

	recipient.AuthorizedProjects = projects
	if err := store.Update(ctx, recipient); err != nil {
		return apperr.Wrap(apperr.KindInternal, "updating permissions", err)
	}

	s.publisher.Publish(ctx, events.UserPermissionsUpdated{
		BaseEvent:          events.NewBaseEvent(),
		TenantID:           tenantID,
		UserID:             recipient.ID,
		Email:              recipient.Email,
		AuthorizedProjects: projects,
	})

	return nil
}

// openStore resolves the tenant and opens its store. Resolution failures
// abort before any store interaction.
func (s *Service) openStore(ctx context.Context, tenantID string) (repository.Store, error) {
	tc, err := s.resolver.ResolveByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores(ctx, tc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "opening tenant store", err)
	}
	return store, nil
}

// userWithRole looks up a user by email and reads its single role. More
// than one role is a fatal data-integrity condition, never a pick-one.
func (s *Service) userWithRole(ctx context.Context, store repository.Store, tenantID, email string) (users.User, users.Role, error) {
	user, err := store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return users.User{}, 0, apperr.NotFound("no user was found for the provided email")
	}
	if err != nil {
		return users.User{}, 0, apperr.Wrap(apperr.KindInternal, "looking up user", err)
	}

	roles, err := store.ListRoles(ctx, user.ID)
	if err != nil {
		return users.User{}, 0, apperr.Wrap(apperr.KindInternal, "listing roles", err)
	}
	if len(roles) != 1 {
		err := fmt.Errorf("user %s holds %d roles", email, len(roles))
		s.log.IntegrityError(tenantID, "single-role invariant violated", err)
		return users.User{}, 0, apperr.Wrap(apperr.KindIntegrity, "user role state is inconsistent", err)
	}

	return user, roles[0], nil
}
