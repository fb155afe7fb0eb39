// Package token issues and redeems the opaque single-use tokens that
// authorize a primary ownership transfer.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"identity_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Provider issues tokens bound to a (tenant, user, purpose) principal and
// redeems them exactly once.
type Provider interface {
	Issue(ctx context.Context, tenantID string, userID uuid.UUID, purpose string) (string, error)
	// Redeem verifies the token for the bound principal and consumes it on
	// success. A second redemption of the same token returns false.
	Redeem(ctx context.Context, tenantID string, userID uuid.UUID, purpose string, token string) (bool, error)
}

// RedisProvider stores token hashes in redis with a TTL. Only the SHA-256
// hash ever leaves the process boundary; the raw token travels out-of-band
// to the recipient.
type RedisProvider struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProvider creates the production token provider.
func NewRedisProvider(client *redis.Client, cfg config.TransferConfig) *RedisProvider {
	return &RedisProvider{client: client, ttl: cfg.GetTransferTokenTTL()}
}

// Issue generates a fresh token for the principal. Issuing again replaces
// any outstanding token for the same principal and purpose.
func (p *RedisProvider) Issue(ctx context.Context, tenantID string, userID uuid.UUID, purpose string) (string, error) {
	raw, err := generateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	if err := p.client.Set(ctx, tokenKey(tenantID, userID, purpose), hashToken(raw), p.ttl).Err(); err != nil {
		return "", err
	}
	return raw, nil
}

// Redeem compares the presented token against the stored hash and deletes
// it on a match. Absent, expired, or mismatched tokens return false.
func (p *RedisProvider) Redeem(ctx context.Context, tenantID string, userID uuid.UUID, purpose string, token string) (bool, error) {
	key := tokenKey(tenantID, userID, purpose)

	stored, err := p.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashToken(token))) != 1 {
		return false, nil
	}

	if err := p.client.Del(ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func tokenKey(tenantID string, userID uuid.UUID, purpose string) string {
	return fmt.Sprintf("transfer:token:%s:%s:%s", tenantID, userID, purpose)
}

func generateOpaqueToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

var _ Provider = (*RedisProvider)(nil)
