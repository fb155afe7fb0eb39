package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity_backend/internal/commands"
	"identity_backend/internal/events"
	"identity_backend/internal/outbox"
	"identity_backend/internal/tenants/registry"
	"identity_backend/internal/tenants/resolver"
	"identity_backend/internal/transfer"
	"identity_backend/internal/transfer/token"
	usersrepo "identity_backend/internal/users/repository"
	usersvc "identity_backend/internal/users/service"
	"identity_backend/platform/config"
	"identity_backend/platform/db"
	platformevents "identity_backend/platform/events"
	"identity_backend/platform/logger"
	platformredis "identity_backend/platform/redis"
	"identity_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting identity worker", "env", cfg.Env, "queue", cfg.QueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	redisClient, err := platformredis.NewClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer redisClient.Close()
	log.Info("redis connection established")

	// Event bus for decoupled communication between modules
	eventBus := platformevents.NewInMemoryBus(log)

	// ========================================================================
	// Tenant Resolution
	// ========================================================================

	registryClient := registry.NewHTTPClient(cfg)
	tenantResolver := resolver.New(registryClient, redisClient, cfg, log)

	// A registry-side password rotation evicts the cached credential
	// immediately instead of waiting out the TTL.
	eventBus.Subscribe(events.TenantPasswordRotated{}.EventName(), events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			tenantID, ok := rotatedTenantID(event)
			if !ok {
				return nil
			}
			log.Info("invalidating cached tenant credential", "tenant_id", tenantID)
			return tenantResolver.Invalidate(ctx, tenantID)
		}))

	storeFactory := usersrepo.NewPostgresFactory(cfg)

	// ========================================================================
	// Event Publishing
	// ========================================================================

	var publisher events.Publisher = eventBus
	var dispatcher *outbox.Dispatcher
	if cfg.ControlDatabaseURL != "" {
		controlPool, err := db.NewControlPool(ctx, cfg)
		if err != nil {
			log.Error("failed to connect to control database", "error", err)
			panic("failed to connect to control database: " + err.Error())
		}
		defer controlPool.Close()

		outboxRepo := outbox.New(controlPool)
		publisher = outbox.NewPublisher(outboxRepo, log)
		dispatcher = outbox.NewDispatcher(outboxRepo, eventBus, log)
		log.Info("durable outbox publishing enabled")
	} else {
		log.Warn("control database not configured; events publish in-memory only")
	}

	// ========================================================================
	// Domain Services
	// ========================================================================

	userService := usersvc.New(tenantResolver, storeFactory, publisher, log)

	tokenProvider := token.NewRedisProvider(redisClient, cfg)
	transferLocker := transfer.NewRedisLocker(redisClient, cfg)
	transferSaga := transfer.NewSaga(tenantResolver, storeFactory, tokenProvider, transferLocker, publisher, log)

	// ========================================================================
	// Command Queue
	// ========================================================================

	val := validator.New()

	worker, err := commands.NewWorker(cfg, userService, transferSaga, dispatcher, val, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	if dispatcher != nil {
		client, err := commands.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize queue client", "error", err)
			panic("failed to initialize queue client: " + err.Error())
		}
		defer client.Close()
		go runOutboxTicker(ctx, client, cfg.OutboxTickInterval, log)
	}

	log.Info("identity worker running")
	if err := worker.Run(ctx); err != nil {
		log.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("identity worker shut down")
}

// runOutboxTicker periodically enqueues an outbox drain task.
func runOutboxTicker(ctx context.Context, client *commands.Client, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.EnqueueOutboxTick(ctx); err != nil {
				log.Error("failed to enqueue outbox tick", "error", err)
			}
		}
	}
}

// rotatedTenantID extracts the tenant id from a rotation event, whether it
// arrives typed or as a stored outbox envelope.
func rotatedTenantID(event events.Event) (string, bool) {
	switch e := event.(type) {
	case events.TenantPasswordRotated:
		return e.TenantID, true
	case events.Stored:
		var rotated events.TenantPasswordRotated
		if err := json.Unmarshal(e.Payload, &rotated); err != nil || rotated.TenantID == "" {
			return "", false
		}
		return rotated.TenantID, true
	default:
		return "", false
	}
}
