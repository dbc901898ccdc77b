//go:build !integration

package postgres

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/repository"
	red "premium-subscription-gateway/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerEntitlementRepo mocks the database repository the decorator wraps.
type mockInnerEntitlementRepo struct {
	UpsertFunc func(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error)
	FindFunc   func(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error)
}

func (m *mockInnerEntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error) {
	return m.UpsertFunc(ctx, tx, userID, subscriptionID, premium, at)
}
func (m *mockInnerEntitlementRepo) Find(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	return m.FindFunc(ctx, tx, userID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }

// memRedis is a map-backed RedisClient; TTLs are ignored.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemRedis() *memRedis { return &memRedis{data: map[string]string{}} }

var _ red.RedisClient = (*memRedis)(nil)

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", red.Nil
	}
	return v, nil
}
func (m *memRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}
func (m *memRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memRedis) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}
func (m *memRedis) Expire(context.Context, string, time.Duration) error { return nil }
func (m *memRedis) Ping(context.Context) error                         { return nil }
func (m *memRedis) Close() error                                       { return nil }
