package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/infra/metrics"
)

var _ adapter.Locker = (*RedisLocker)(nil)

// RedisLocker holds a key with SETNX and releases it only for the token that
// acquired it. A busy key fails fast with ErrChargeInProgress: another worker
// owns the chain and this one should skip it.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		metrics.IncLockAcquire("error")
		return "", fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		metrics.IncLockAcquire("busy")
		return "", domain.ErrChargeInProgress
	}
	metrics.IncLockAcquire("acquired")
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
