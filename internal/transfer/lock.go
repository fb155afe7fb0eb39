package transfer

import (
	"context"
	"errors"
	"time"

	"identity_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTransferInProgress is returned when another transfer saga holds the
// tenant's lock.
var ErrTransferInProgress = errors.New("a transfer is already in progress for this tenant")

// Locker serializes transfer sagas per tenant. Two sagas running against
// the same tenant can leave it with zero or two apex holders, so this is a
// correctness requirement, not an optimization.
type Locker interface {
	// Acquire takes the tenant's transfer lock and returns a release
	// function. Returns ErrTransferInProgress if the lock is held.
	Acquire(ctx context.Context, tenantID string) (func(context.Context), error)
}

// releaseScript deletes the lock only if the caller still owns it, so a
// release after TTL expiry cannot clobber a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with a redis advisory lock, giving mutual
// exclusion across all instances of the service. The TTL bounds how long a
// crashed holder can block transfers.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates the production transfer locker.
func NewRedisLocker(client *redis.Client, cfg config.TransferConfig) *RedisLocker {
	return &RedisLocker{client: client, ttl: cfg.GetTransferLockTTL()}
}

func (l *RedisLocker) Acquire(ctx context.Context, tenantID string) (func(context.Context), error) {
	key := "transfer:lock:" + tenantID
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransferInProgress
	}

	release := func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
	}
	return release, nil
}

var _ Locker = (*RedisLocker)(nil)
