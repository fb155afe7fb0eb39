// Package redis provides redis client infrastructure.
// This is part of the platform layer and contains no business logic.
package redis

import (
	"context"

	"identity_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a redis client from the configured URL and verifies
// connectivity before returning it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
