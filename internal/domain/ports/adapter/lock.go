package adapter

import (
	"context"
	"time"
)

// Locker gives short-lived exclusive ownership of a key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
