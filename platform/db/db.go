// Package db provides database connection infrastructure.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"identity_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewTenantPool creates a connection pool against the shared cluster using
// per-tenant credentials. Pools are scoped to one unit of work and closed by
// the caller when it completes; they are deliberately small.
func NewTenantPool(ctx context.Context, cfg config.DatabaseConfig, username, password string) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		url.QueryEscape(username),
		url.QueryEscape(password),
		cfg.GetDatabaseHost(),
		cfg.GetDatabaseName(),
		cfg.GetDatabaseSSLMode(),
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 4
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewControlPool creates the long-lived control-plane pool used by the
// outbox. Tenant rows are never reachable through it.
func NewControlPool(ctx context.Context, cfg config.ControlDatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetControlDatabaseURL())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
