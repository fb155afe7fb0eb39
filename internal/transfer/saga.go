// Package transfer implements the primary ownership transfer saga: a token
// handshake followed by a four-sub-step role swap with hand-built
// compensation, since the store commits each role mutation independently.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"identity_backend/internal/events"
	"identity_backend/internal/tenants"
	"identity_backend/internal/transfer/token"
	"identity_backend/internal/users"
	"identity_backend/internal/users/repository"
	"identity_backend/platform/apperr"
	"identity_backend/platform/logger"
)

// PurposeOwnershipTransfer is the token purpose binding a transfer token to
// its principal. Tokens issued for any other purpose never redeem here.
const PurposeOwnershipTransfer = "primary-owner-transfer"

// Outcome is the terminal state of a transfer execution.
type Outcome int

const (
	// OutcomeCompleted means all four sub-steps committed and the
	// completion event was published.
	OutcomeCompleted Outcome = iota
	// OutcomeAbortedNoChange means the saga failed before any sub-step ran.
	OutcomeAbortedNoChange
	// OutcomeAbortedCompensated means a sub-step failed and the rollback
	// restored the pre-transfer role assignments exactly.
	OutcomeAbortedCompensated
	// OutcomeAbortedInconsistent means the rollback itself failed. The
	// tenant may have zero or two apex holders and requires manual repair.
	OutcomeAbortedInconsistent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeAbortedNoChange:
		return "Aborted-NoChange"
	case OutcomeAbortedCompensated:
		return "Aborted-Compensated"
	case OutcomeAbortedInconsistent:
		return "Aborted-Inconsistent"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ContextResolver supplies tenant contexts for the saga.
type ContextResolver interface {
	ResolveByID(ctx context.Context, tenantID string) (tenants.TenantContext, error)
}

// Saga orchestrates both phases of a primary ownership transfer.
type Saga struct {
	resolver  ContextResolver
	stores    repository.Factory
	tokens    token.Provider
	locks     Locker
	publisher events.Publisher
	log       *logger.Logger
}

// NewSaga creates the transfer saga orchestrator.
func NewSaga(resolver ContextResolver, stores repository.Factory, tokens token.Provider, locks Locker, publisher events.Publisher, log *logger.Logger) *Saga {
	return &Saga{
		resolver:  resolver,
		stores:    stores,
		tokens:    tokens,
		locks:     locks,
		publisher: publisher,
		log:       log,
	}
}

// GenerateToken is Phase A: issue a transfer token bound to the current
// apex holder. No role state is mutated. The token is returned and also
// published for out-of-band delivery to the intended recipient.
func (s *Saga) GenerateToken(ctx context.Context, tenantID, ownerEmail string) (string, error) {
	tc, err := s.resolver.ResolveByID(ctx, tenantID)
	if err != nil {
		return "", err
	}

	store, err := s.stores(ctx, tc)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "opening tenant store", err)
	}
	defer store.Close()

	owner, role, err := s.userWithRole(ctx, store, tenantID, ownerEmail)
	if err != nil {
		return "", err
	}
	if !role.IsApex() {
		return "", apperr.AuthorizationDenied("transfer tokens are issued to the current primary owner only")
	}

	transferToken, err := s.tokens.Issue(ctx, tenantID, owner.ID, PurposeOwnershipTransfer)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "issuing transfer token", err)
	}

	s.publisher.Publish(ctx, events.OwnershipTransferTokenGenerated{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		OwnerEmail: ownerEmail,
		Token:      transferToken,
	})

	return transferToken, nil
}

// ExecuteTransfer is Phase B. The commanding user must be the current apex
// holder and present the token issued for them; on success the commanding
// user ends as Owner and the target as PrimaryOwner. The tenant's transfer
// lock is held for the whole phase.
func (s *Saga) ExecuteTransfer(ctx context.Context, tenantID, commandingEmail, targetEmail, transferToken string) (Outcome, error) {
	release, err := s.locks.Acquire(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTransferInProgress) {
			return OutcomeAbortedNoChange, apperr.Conflict(err.Error())
		}
		return OutcomeAbortedNoChange, apperr.Wrap(apperr.KindInternal, "acquiring transfer lock", err)
	}
	// The release must run even when the caller's context is gone.
	defer release(context.WithoutCancel(ctx))

	outcome, err := s.executeLocked(ctx, tenantID, commandingEmail, targetEmail, transferToken)
	if err != nil {
		s.publisher.Publish(ctx, events.OwnershipTransferRejected{
			BaseEvent:       events.NewBaseEvent(),
			TenantID:        tenantID,
			CommandingEmail: commandingEmail,
			TargetEmail:     targetEmail,
			Outcome:         outcome.String(),
			Reason:          err.Error(),
		})
	}
	return outcome, err
}

func (s *Saga) executeLocked(ctx context.Context, tenantID, commandingEmail, targetEmail, transferToken string) (Outcome, error) {
	// Step 1: tenant resolution. Failure aborts before any mutation.
	tc, err := s.resolver.ResolveByID(ctx, tenantID)
	if err != nil {
		return OutcomeAbortedNoChange, err
	}

	store, err := s.stores(ctx, tc)
	if err != nil {
		return OutcomeAbortedNoChange, apperr.Wrap(apperr.KindInternal, "opening tenant store", err)
	}
	defer store.Close()

	// Step 2: both users must exist.
	commanding, commandingRole, err := s.userWithRole(ctx, store, tenantID, commandingEmail)
	if err != nil {
		return OutcomeAbortedNoChange, err
	}
	target, targetPrevRole, err := s.userWithRole(ctx, store, tenantID, targetEmail)
	if err != nil {
		return OutcomeAbortedNoChange, err
	}

	// Step 3: the token was issued for the apex holder at issue time, so
	// verification binds to the commanding user.
	ok, err := s.tokens.Redeem(ctx, tenantID, commanding.ID, PurposeOwnershipTransfer, transferToken)
	if err != nil {
		return OutcomeAbortedNoChange, apperr.Wrap(apperr.KindInternal, "verifying transfer token", err)
	}
	if !ok {
		return OutcomeAbortedNoChange, apperr.InvalidToken("the token was invalid for the transfer")
	}

	// Step 4: only the current apex holder may execute a transfer.
	if !commandingRole.IsApex() {
		s.log.AuthzEvent("transfer_ownership", tenantID, commandingEmail, false)
		return OutcomeAbortedNoChange, apperr.AuthorizationDenied("the user executing the transfer is not the primary owner")
	}

	// Step 5: the four-sub-step role swap. Once it starts, a caller
	// cancellation must not abandon the swap mid-sub-step; it runs to a
	// safe terminal state on a detached context.
	swapCtx := context.WithoutCancel(ctx)
	outcome, err := s.roleSwap(swapCtx, store, tenantID, commanding, target, targetPrevRole)
	if err != nil {
		return outcome, err
	}

	// Step 6: announce completion only after all four sub-steps committed.
	s.publisher.Publish(ctx, events.OwnershipTransferred{
		BaseEvent:     events.NewBaseEvent(),
		TenantID:      tenantID,
		PreviousOwner: commandingEmail,
		NewOwner:      targetEmail,
	})
	s.log.Info("primary ownership transferred",
		"tenant_id", tenantID,
		"previous_owner", commandingEmail,
		"new_owner", targetEmail,
	)

	return OutcomeCompleted, nil
}

// swapStep identifies one committed sub-step of the role swap, in execution
// order.
type swapStep int

const (
	swapAddCommandingOwner swapStep = iota
	swapRemoveCommandingApex
	swapAddTargetApex
	swapRemoveTargetPrior
)

// roleSwap executes the fixed four-sub-step sequence. On a sub-step
// failure it hands the already-committed steps to the compensation ladder.
func (s *Saga) roleSwap(ctx context.Context, store repository.Store, tenantID string, commanding, target users.User, targetPrevRole users.Role) (Outcome, error) {
	var completed []swapStep

	fail := func(stepErr error) (Outcome, error) {
		if compErr := s.compensate(ctx, store, tenantID, completed, commanding, target, targetPrevRole); compErr != nil {
			s.log.IntegrityError(tenantID, "transfer compensation failed; the tenant may have zero or two primary owners", compErr)
			return OutcomeAbortedInconsistent, apperr.Wrap(apperr.KindIntegrity,
				"transfer failed and rollback did not complete; operator remediation required", stepErr)
		}
		return OutcomeAbortedCompensated, apperr.Wrap(apperr.KindInternal, "transfer failed and was rolled back", stepErr)
	}

	// 5a: demote-to-be — add the commanding user to Owner.
	if err := store.AddRole(ctx, commanding.ID, users.RoleOwner); err != nil {
		s.log.SagaStep(tenantID, "add_commanding_owner", err)
		return fail(err)
	}
	completed = append(completed, swapAddCommandingOwner)
	s.log.SagaStep(tenantID, "add_commanding_owner", nil)

	// 5b: remove the commanding user from the apex role.
	if err := store.RemoveRole(ctx, commanding.ID, users.RolePrimaryOwner); err != nil {
		s.log.SagaStep(tenantID, "remove_commanding_apex", err)
		return fail(err)
	}
	completed = append(completed, swapRemoveCommandingApex)
	s.log.SagaStep(tenantID, "remove_commanding_apex", nil)

	// 5c: add the target to the apex role.
	if err := store.AddRole(ctx, target.ID, users.RolePrimaryOwner); err != nil {
		s.log.SagaStep(tenantID, "add_target_apex", err)
		return fail(err)
	}
	completed = append(completed, swapAddTargetApex)
	s.log.SagaStep(tenantID, "add_target_apex", nil)

	// 5d: remove the target's prior role.
	if err := store.RemoveRole(ctx, target.ID, targetPrevRole); err != nil {
		s.log.SagaStep(tenantID, "remove_target_prior", err)
		return fail(err)
	}
	s.log.SagaStep(tenantID, "remove_target_prior", nil)

	return OutcomeCompleted, nil
}

// compensate undoes every already-committed sub-step in reverse order,
// restoring the pre-transfer role assignments exactly. It stops at the
// first undo failure; the caller escalates that to an integrity error
// rather than treating it as a clean abort.
func (s *Saga) compensate(ctx context.Context, store repository.Store, tenantID string, completed []swapStep, commanding, target users.User, targetPrevRole users.Role) error {
	for i := len(completed) - 1; i >= 0; i-- {
		var err error
		switch completed[i] {
		case swapRemoveTargetPrior:
			err = store.AddRole(ctx, target.ID, targetPrevRole)
		case swapAddTargetApex:
			err = store.RemoveRole(ctx, target.ID, users.RolePrimaryOwner)
		case swapRemoveCommandingApex:
			err = store.AddRole(ctx, commanding.ID, users.RolePrimaryOwner)
		case swapAddCommandingOwner:
			err = store.RemoveRole(ctx, commanding.ID, users.RoleOwner)
		}
		if err != nil {
			return fmt.Errorf("undoing sub-step %d: %w", completed[i], err)
		}
	}
	return nil
}

func (s *Saga) userWithRole(ctx context.Context, store repository.Store, tenantID, email string) (users.User, users.Role, error) {
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
