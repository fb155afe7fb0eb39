// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides connection settings for tenant stores. Per-tenant
// credentials come from the resolver, never from configuration.
type DatabaseConfig interface {
	// GetDatabaseHost returns the host:port of the shared Postgres cluster.
	GetDatabaseHost() string
	// GetDatabaseName returns the database name shared by all tenant schemas.
	GetDatabaseName() string
	// GetDatabaseSSLMode returns the sslmode parameter for connections.
	GetDatabaseSSLMode() string
}

// ControlDatabaseConfig provides the control-plane connection string used by
// the outbox. Tenant data never lives behind these credentials.
type ControlDatabaseConfig interface {
	GetControlDatabaseURL() string
}

// RedisConfig provides settings for the shared redis instance backing the
// credential cache, transfer tokens, transfer locks and the task queue.
type RedisConfig interface {
	GetRedisURL() string
}

// RegistryConfig provides settings for the tenant registry client.
type RegistryConfig interface {
	GetRegistryBaseURL() string
	GetRegistrySigningSecret() string
	GetRegistryTimeout() time.Duration
	GetRegistryRequestsPerSecond() float64
}

// ResolverConfig provides settings for the tenant context resolver.
type ResolverConfig interface {
	GetCredentialCacheTTL() time.Duration
}

// TransferConfig provides settings for the ownership transfer saga.
type TransferConfig interface {
	GetTransferTokenTTL() time.Duration
	GetTransferLockTTL() time.Duration
}

// WorkerConfig provides settings for the command queue worker.
type WorkerConfig interface {
	RedisConfig
	GetQueueName() string
	GetQueueConcurrency() int
	GetOutboxTickInterval() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	DatabaseHost           string
	DatabaseName           string
	DatabaseSSLMode        string
	ControlDatabaseURL     string
	RedisURL               string
	RegistryBaseURL        string
	RegistrySigningSecret  string
	RegistryTimeout        time.Duration
	RegistryRequestsPerSec float64
	CredentialCacheTTL     time.Duration
	TransferTokenTTL       time.Duration
	TransferLockTTL        time.Duration
	QueueName              string
	QueueConcurrency       int
	OutboxTickInterval     time.Duration
}

// Load reads configuration from the environment. A .env file is honored when
// present so local development matches deployment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		DatabaseHost:           getEnv("DATABASE_HOST", "localhost:5432"),
		DatabaseName:           getEnv("DATABASE_NAME", "identity"),
		DatabaseSSLMode:        getEnv("DATABASE_SSLMODE", "prefer"),
		ControlDatabaseURL:     os.Getenv("CONTROL_DATABASE_URL"),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RegistryBaseURL:        os.Getenv("TENANT_REGISTRY_URL"),
		RegistrySigningSecret:  os.Getenv("TENANT_REGISTRY_SECRET"),
		RegistryTimeout:        getEnvDuration("TENANT_REGISTRY_TIMEOUT", 10*time.Second),
		RegistryRequestsPerSec: getEnvFloat("TENANT_REGISTRY_RPS", 50),
		CredentialCacheTTL:     getEnvDuration("CREDENTIAL_CACHE_TTL", time.Hour),
		TransferTokenTTL:       getEnvDuration("TRANSFER_TOKEN_TTL", 24*time.Hour),
		TransferLockTTL:        getEnvDuration("TRANSFER_LOCK_TTL", 30*time.Second),
		QueueName:              getEnv("QUEUE_NAME", "identity"),
		QueueConcurrency:       getEnvInt("QUEUE_CONCURRENCY", 10),
		OutboxTickInterval:     getEnvDuration("OUTBOX_TICK_INTERVAL", 15*time.Second),
	}

	if cfg.RegistryBaseURL == "" {
		return nil, fmt.Errorf("TENANT_REGISTRY_URL is required")
	}
	if cfg.RegistrySigningSecret == "" {
		return nil, fmt.Errorf("TENANT_REGISTRY_SECRET is required")
	}

	return cfg, nil
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseHost() string    { return c.DatabaseHost }
func (c *Config) GetDatabaseName() string    { return c.DatabaseName }
func (c *Config) GetDatabaseSSLMode() string { return c.DatabaseSSLMode }

func (c *Config) GetControlDatabaseURL() string { return c.ControlDatabaseURL }

func (c *Config) GetRedisURL() string { return c.RedisURL }

func (c *Config) GetRegistryBaseURL() string            { return c.RegistryBaseURL }
func (c *Config) GetRegistrySigningSecret() string      { return c.RegistrySigningSecret }
func (c *Config) GetRegistryTimeout() time.Duration     { return c.RegistryTimeout }
func (c *Config) GetRegistryRequestsPerSecond() float64 { return c.RegistryRequestsPerSec }

func (c *Config) GetCredentialCacheTTL() time.Duration { return c.CredentialCacheTTL }

func (c *Config) GetTransferTokenTTL() time.Duration { return c.TransferTokenTTL }
func (c *Config) GetTransferLockTTL() time.Duration  { return c.TransferLockTTL }

func (c *Config) GetQueueName() string                 { return c.QueueName }
func (c *Config) GetQueueConcurrency() int             { return c.QueueConcurrency }
func (c *Config) GetOutboxTickInterval() time.Duration { return c.OutboxTickInterval }

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
