package commands

import (
	"context"
	"fmt"

	"identity_backend/internal/outbox"
	"identity_backend/internal/transfer"
	usersvc "identity_backend/internal/users/service"
	"identity_backend/platform/apperr"
	"identity_backend/platform/config"
	"identity_backend/platform/logger"
	"identity_backend/platform/validator"

	"github.com/hibiken/asynq"
)

// Worker processes identity commands from the queue.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	users      *usersvc.Service
	saga       *transfer.Saga
	dispatcher *outbox.Dispatcher
	val        *validator.Validator
	log        *logger.Logger
}

func NewWorker(cfg config.WorkerConfig, users *usersvc.Service, saga *transfer.Saga, dispatcher *outbox.Dispatcher, val *validator.Validator, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetQueueConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		users:      users,
		saga:       saga,
		dispatcher: dispatcher,
		val:        val,
		log:        log,
	}

	mux.HandleFunc(TaskCreateUser, w.handleCreateUser)
	mux.HandleFunc(TaskDeleteUser, w.handleDeleteUser)
	mux.HandleFunc(TaskDeleteAccount, w.handleDeleteAccount)
	mux.HandleFunc(TaskUpdateUserRole, w.handleUpdateUserRole)
	mux.HandleFunc(TaskUpdateUserPermissions, w.handleUpdateUserPermissions)
	mux.HandleFunc(TaskGenerateTransferToken, w.handleGenerateTransferToken)
	mux.HandleFunc(TaskTransferOwnership, w.handleTransferOwnership)
	mux.HandleFunc(TaskOutboxTick, w.handleOutboxTick)

	return w, nil
}

// Run blocks processing tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()
	return w.server.Run(w.mux)
}

func (w *Worker) handleCreateUser(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[CreateUserPayload](w.val, task)
	if err != nil {
		return err
	}
	_, err = w.users.CreateUser(ctx, usersvc.CreateUserParams{
		TenantID:           payload.TenantID,
		Email:              payload.Email,
		FirstName:          payload.FirstName,
		LastName:           payload.LastName,
		PlainPassword:      payload.Password,
		Role:               payload.Role,
		AuthorizedProjects: payload.AuthorizedProjects,
	})
	return w.finish(task.Type(), err)
}

func (w *Worker) handleDeleteUser(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[DeleteUserPayload](w.val, task)
	if err != nil {
		return err
	}
	return w.finish(task.Type(), w.users.DeleteUser(ctx, payload.TenantID, payload.CommandingEmail, payload.Email))
}

func (w *Worker) handleDeleteAccount(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[DeleteAccountPayload](w.val, task)
	if err != nil {
		return err
	}
	return w.finish(task.Type(), w.users.DeleteAccount(ctx, payload.TenantID, payload.Email))
}

func (w *Worker) handleUpdateUserRole(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[UpdateUserRolePayload](w.val, task)
	if err != nil {
		return err
	}
	return w.finish(task.Type(), w.users.UpdateUserRole(ctx, payload.TenantID, payload.CommandingEmail, payload.Email, payload.Role))
}

func (w *Worker) handleUpdateUserPermissions(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[UpdateUserPermissionsPayload](w.val, task)
	if err != nil {
		return err
	}
	return w.finish(task.Type(), w.users.UpdateUserPermissions(ctx, payload.TenantID, payload.CommandingEmail, payload.Email, payload.AuthorizedProjects))
}

func (w *Worker) handleGenerateTransferToken(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[GenerateTransferTokenPayload](w.val, task)
	if err != nil {
		return err
	}
	_, err = w.saga.GenerateToken(ctx, payload.TenantID, payload.OwnerEmail)
	return w.finish(task.Type(), err)
}

func (w *Worker) handleTransferOwnership(ctx context.Context, task *asynq.Task) error {
	payload, err := decode[TransferOwnershipPayload](w.val, task)
	if err != nil {
		return err
	}
	outcome, err := w.saga.ExecuteTransfer(ctx, payload.TenantID, payload.CommandingEmail, payload.TargetEmail, payload.Token)
	if err != nil {
		w.log.Warn("ownership transfer aborted",
			"tenant_id", payload.TenantID,
			"outcome", outcome.String(),
			"error", err,
		)
	}
	return w.finish(task.Type(), err)
}

func (w *Worker) handleOutboxTick(ctx context.Context, task *asynq.Task) error {
	if w.dispatcher == nil {
		return nil
	}
	return w.dispatcher.DispatchDue(ctx, 100)
}

// decode unmarshals and validates a task payload. A malformed payload will
// never become valid, so it skips retries.
func decode[T any](val *validator.Validator, task *asynq.Task) (T, error) {
	payload, err := parsePayload[T](task)
	if err != nil {
		return payload, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := val.Struct(payload); err != nil {
		return payload, fmt.Errorf("invalid %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}

// finish maps domain errors onto queue retry semantics: only errors the
// taxonomy marks retryable are retried, everything else is terminal.
func (w *Worker) finish(taskType string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*apperr.Error); ok && !appErr.Retryable() {
		return fmt.Errorf("%s: %v: %w", taskType, err, asynq.SkipRetry)
	}
	return fmt.Errorf("%s: %w", taskType, err)
}
