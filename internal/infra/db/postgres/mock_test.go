//go:build !integration

package postgres

import (
	"context"
	"time"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
	red "recurrent-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

type mockInnerTypeRepo struct {
	SaveFunc     func(ctx context.Context, tx repository.Tx, t *model.SubscriptionType) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionType, error)
}

func (m *mockInnerTypeRepo) Save(ctx context.Context, tx repository.Tx, t *model.SubscriptionType) error {
	return m.SaveFunc(ctx, tx, t)
}

func (m *mockInnerTypeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionType, error) {
	return m.FindByIDFunc(ctx, tx, id)
}

var _ red.RedisClient = (*mockRedisClient)(nil)

type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return "", red.Nil
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	return nil
}

func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }

func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	return nil
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}

func (m *mockRedisClient) Close() error { return nil }
