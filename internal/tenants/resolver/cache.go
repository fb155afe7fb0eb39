package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const credentialKeyPrefix = "tenant:credential:"

// errCacheMiss distinguishes an absent entry from a redis failure.
var errCacheMiss = errors.New("credential cache miss")

// credentialCache stores only the tenant database password, the expensive
// and sensitive half of the credential pair. The username is reconstructed
// deterministically from the tenant id on every hit.
type credentialCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newCredentialCache(client *redis.Client, ttl time.Duration) *credentialCache {
	return &credentialCache{client: client, ttl: ttl}
}

func (c *credentialCache) Get(ctx context.Context, tenantID string) (string, error) {
	password, err := c.client.Get(ctx, credentialKeyPrefix+tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return "", errCacheMiss
	}
	if err != nil {
		return "", err
	}
	return password, nil
}

func (c *credentialCache) Set(ctx context.Context, tenantID, password string) error {
	return c.client.Set(ctx, credentialKeyPrefix+tenantID, password, c.ttl).Err()
}

func (c *credentialCache) Delete(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, credentialKeyPrefix+tenantID).Err()
}
