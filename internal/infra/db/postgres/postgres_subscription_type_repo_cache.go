package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/metrics"
	red "recurrent-billing/internal/infra/redis"
)

var _ repository.SubscriptionTypeRepository = (*subscriptionTypeCache)(nil)

// subscriptionTypeCache is a read-through Redis cache in front of the
// subscription type table. Reads inside a transaction bypass it.
type subscriptionTypeCache struct {
	inner repository.SubscriptionTypeRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewSubscriptionTypeCache(inner repository.SubscriptionTypeRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.SubscriptionTypeRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := logger.With().Str("component", "SubscriptionTypeCache").Logger()
	return &subscriptionTypeCache{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func subscriptionTypeKey(id string) string { return "subscription_type:" + id }

func (d *subscriptionTypeCache) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionType, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := subscriptionTypeKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var st model.SubscriptionType
		if json.Unmarshal([]byte(val), &st) == nil {
			metrics.IncCacheRequest("subscription_type", "hit")
			return &st, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("subscription_type", "miss")
	st, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(st); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return st, nil
}

// Save invalidates before writing so a concurrent reader cannot re-cache the old row for long.
func (d *subscriptionTypeCache) Save(ctx context.Context, tx repository.Tx, t *model.SubscriptionType) error {
	_ = d.cache.Del(ctx, subscriptionTypeKey(t.ID))
	if err := d.inner.Save(ctx, tx, t); err != nil {
		return err
	}
	return d.cache.Del(ctx, subscriptionTypeKey(t.ID))
}
