// Package commands is the queue transport for identity commands. Commands
// arrive as asynq tasks, are validated at this boundary, and are handed to
// the domain services.
package commands

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TaskCreateUser            = "identity:create_user"
	TaskDeleteUser            = "identity:delete_user"
	TaskDeleteAccount         = "identity:delete_account"
	TaskUpdateUserRole        = "identity:update_user_role"
	TaskUpdateUserPermissions = "identity:update_user_permissions"
	TaskGenerateTransferToken = "identity:generate_transfer_token"
	TaskTransferOwnership     = "identity:transfer_ownership"
	TaskOutboxTick            = "identity:outbox_tick"
)

// CreateUserPayload carries the create-user command.
type CreateUserPayload struct {
	TenantID           string   `json:"tenantId" validate:"required"`
	Email              string   `json:"email" validate:"required,email"`
	FirstName          string   `json:"firstName" validate:"required"`
	LastName           string   `json:"lastName" validate:"required"`
	Password           string   `json:"password" validate:"required,min=8"`
	Role               string   `json:"role" validate:"required"`
	AuthorizedProjects []string `json:"authorizedProjects"`
}

// DeleteUserPayload carries the delete-user command.
type DeleteUserPayload struct {
	TenantID        string `json:"tenantId" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	CommandingEmail string `json:"commandingEmail" validate:"required,email"`
}

// DeleteAccountPayload carries the self-service delete-account command.
type DeleteAccountPayload struct {
	TenantID string `json:"tenantId" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

// UpdateUserRolePayload carries the update-role command.
type UpdateUserRolePayload struct {
	TenantID        string `json:"tenantId" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	CommandingEmail string `json:"commandingEmail" validate:"required,email"`
	Role            string `json:"role" validate:"required"`
}

// UpdateUserPermissionsPayload carries the update-permissions command.
type UpdateUserPermissionsPayload struct {
	TenantID           string   `json:"tenantId" validate:"required"`
	Email              string   `json:"email" validate:"required,email"`
	CommandingEmail    string   `json:"commandingEmail" validate:"required,email"`
	AuthorizedProjects []string `json:"authorizedProjects"`
}

// GenerateTransferTokenPayload carries Phase A of the ownership transfer.
type GenerateTransferTokenPayload struct {
	TenantID   string `json:"tenantId" validate:"required"`
	OwnerEmail string `json:"ownerEmail" validate:"required,email"`
}

// TransferOwnershipPayload carries Phase B of the ownership transfer.
type TransferOwnershipPayload struct {
	TenantID        string `json:"tenantId" validate:"required"`
	CommandingEmail string `json:"commandingEmail" validate:"required,email"`
	TargetEmail     string `json:"targetEmail" validate:"required,email"`
	Token           string `json:"token" validate:"required"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, body), nil
}

func NewCreateUserTask(p CreateUserPayload) (*asynq.Task, error) {
	return newTask(TaskCreateUser, p)
}

func NewDeleteUserTask(p DeleteUserPayload) (*asynq.Task, error) {
	return newTask(TaskDeleteUser, p)
}

func NewDeleteAccountTask(p DeleteAccountPayload) (*asynq.Task, error) {
	return newTask(TaskDeleteAccount, p)
}

func NewUpdateUserRoleTask(p UpdateUserRolePayload) (*asynq.Task, error) {
	return newTask(TaskUpdateUserRole, p)
}

func NewUpdateUserPermissionsTask(p UpdateUserPermissionsPayload) (*asynq.Task, error) {
	return newTask(TaskUpdateUserPermissions, p)
}

func NewGenerateTransferTokenTask(p GenerateTransferTokenPayload) (*asynq.Task, error) {
	return newTask(TaskGenerateTransferToken, p)
}

func NewTransferOwnershipTask(p TransferOwnershipPayload) (*asynq.Task, error) {
	return newTask(TaskTransferOwnership, p)
}

func NewOutboxTickTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxTick, nil)
}

func parsePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("unmarshaling %s payload: %w", task.Type(), err)
	}
	return payload, nil
}
