package redis

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter counts hits per fixed window. Each window gets its own key, so a
// lost EXPIRE can never pin a caller at the limit past the window.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := r.now().Truncate(window).Unix()
	k := key + ":" + strconv.FormatInt(bucket, 10)

	count, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window+time.Second); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

func AdminRequestKey(adminID string) string {
	return "rate_limit:admin:" + adminID
}
