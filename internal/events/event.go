// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"encoding/json"

	"identity_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// User Domain Events
// =============================================================================

// UserCreated is published when a user is created within a tenant.
type UserCreated struct {
	BaseEvent
	TenantID string    `json:"tenantId"`
	UserID   uuid.UUID `json:"userId"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

func (e UserCreated) EventName() string { return "identity.user.created" }

// UserDeleted is published when a commanding user deletes another user.
type UserDeleted struct {
	BaseEvent
	TenantID        string    `json:"tenantId"`
	UserID          uuid.UUID `json:"userId"`
	Email           string    `json:"email"`
	CommandingEmail string    `json:"commandingEmail"`
}

func (e UserDeleted) EventName() string { return "identity.user.deleted" }

// AccountDeleted is published when a user deletes their own account.
type AccountDeleted struct {
	BaseEvent
	TenantID string    `json:"tenantId"`
	UserID   uuid.UUID `json:"userId"`
	Email    string    `json:"email"`
}

func (e AccountDeleted) EventName() string { return "identity.account.deleted" }

// UserRoleUpdated is published when a user's role changes outside of an
// ownership transfer.
type UserRoleUpdated struct {
	BaseEvent
	TenantID string    `json:"tenantId"`
	UserID   uuid.UUID `json:"userId"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

func (e UserRoleUpdated) EventName() string { return "identity.user.role_updated" }

// UserPermissionsUpdated is published when a user's authorized project set
// is replaced.
type UserPermissionsUpdated struct {
	BaseEvent
	TenantID           string    `json:"tenantId"`
	UserID             uuid.UUID `json:"userId"`
	Email              string    `json:"email"`
	AuthorizedProjects []string  `json:"authorizedProjects"`
}

func (e UserPermissionsUpdated) EventName() string { return "identity.user.permissions_updated" }

// =============================================================================
// Ownership Transfer Events
// =============================================================================

// OwnershipTransferTokenGenerated is published after Phase A of the transfer
// saga. The token travels out-of-band to the intended recipient.
type OwnershipTransferTokenGenerated struct {
	BaseEvent
	TenantID   string `json:"tenantId"`
	OwnerEmail string `json:"ownerEmail"`
	Token      string `json:"token"`
}

func (e OwnershipTransferTokenGenerated) EventName() string {
	return "identity.ownership.transfer_token_generated"
}

// OwnershipTransferred is published only after all four role-swap sub-steps
// of a transfer committed.
type OwnershipTransferred struct {
	BaseEvent
	TenantID      string `json:"tenantId"`
	PreviousOwner string `json:"previousOwner"`
	NewOwner      string `json:"newOwner"`
}

func (e OwnershipTransferred) EventName() string { return "identity.ownership.transferred" }

// OwnershipTransferRejected is published when a transfer aborts, carrying
// the terminal state so consumers can distinguish a clean abort from one
// needing operator attention.
type OwnershipTransferRejected struct {
	BaseEvent
	TenantID        string `json:"tenantId"`
	CommandingEmail string `json:"commandingEmail"`
	TargetEmail     string `json:"targetEmail"`
	Outcome         string `json:"outcome"`
	Reason          string `json:"reason"`
}

func (e OwnershipTransferRejected) EventName() string { return "identity.ownership.transfer_rejected" }

// =============================================================================
// Tenant Events
// =============================================================================

// TenantPasswordRotated is consumed (not produced) by this service; the
// resolver subscribes to it to invalidate the cached credential.
type TenantPasswordRotated struct {
	BaseEvent
	TenantID string `json:"tenantId"`
}

func (e TenantPasswordRotated) EventName() string { return "tenants.password_rotated" }

// =============================================================================
// Outbox Envelope
// =============================================================================

// Stored wraps an event drained from the durable outbox. The name and
// payload round-trip through the outbox row.
type Stored struct {
	BaseEvent
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func (e Stored) EventName() string { return e.Name }
