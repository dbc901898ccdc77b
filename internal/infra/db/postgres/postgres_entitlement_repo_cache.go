package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/repository"
	"premium-subscription-gateway/internal/infra/metrics"
	red "premium-subscription-gateway/internal/infra/redis"
)

var (
	_ repository.EntitlementRepository = (*entitlementRepoCacheDecorator)(nil)
	_ repository.EntitlementCache      = (*entitlementRepoCacheDecorator)(nil)
)

type entitlementRepoCacheDecorator struct {
	inner repository.EntitlementRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewEntitlementRepoCacheDecorator(inner repository.EntitlementRepository, cache red.RedisClient, ttl time.Duration) *entitlementRepoCacheDecorator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &entitlementRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func entitlementKey(userID string) string {
	return fmt.Sprintf("entitlement:%s", userID)
}

// entitlementGenKey counts invalidations of a user's flag. A cached value is
// only served while the counter still equals the one read before the
// database lookup that produced it.
func entitlementGenKey(userID string) string {
	return fmt.Sprintf("entitlement:gen:%s", userID)
}

type cachedEntitlement struct {
	Gen         int64              `json:"gen"`
	Entitlement *model.Entitlement `json:"entitlement"`
}

func (d *entitlementRepoCacheDecorator) generation(ctx context.Context, userID string) (int64, error) {
	val, err := d.cache.Get(ctx, entitlementGenKey(userID))
	if errors.Is(err, red.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (d *entitlementRepoCacheDecorator) Find(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	// Reads inside a transaction must see the transaction's own writes.
	if tx != nil {
		return d.inner.Find(ctx, tx, userID)
	}
	key := entitlementKey(userID)

	// The generation is read before the database so a fill computed from a
	// pre-commit row carries a generation that Invalidate has already bumped.
	gen, genErr := d.generation(ctx, userID)
	if genErr == nil {
		val, err := d.cache.Get(ctx, key)
		if err == nil {
			var c cachedEntitlement
			if json.Unmarshal([]byte(val), &c) == nil && c.Gen == gen && c.Entitlement != nil && c.Entitlement.UserID == userID {
				metrics.IncCacheRequest("entitlement", "hit")
				return c.Entitlement, nil
			}
		} else if !errors.Is(err, red.Nil) {
			metrics.IncCacheRequest("entitlement", "error")
		}
	} else {
		metrics.IncCacheRequest("entitlement", "error")
	}

	metrics.IncCacheRequest("entitlement", "miss")
	e, err := d.inner.Find(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		if b, err := json.Marshal(cachedEntitlement{Gen: gen, Entitlement: e}); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return e, nil
}

// Upsert leaves the cache alone: a write may still roll back, so the cached
// flag is dropped by Invalidate once the change is committed.
func (d *entitlementRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error) {
	return d.inner.Upsert(ctx, tx, userID, subscriptionID, premium, at)
}

// Invalidate bumps the user's generation, then drops the cached value. Fills
// racing the bump are never served.
func (d *entitlementRepoCacheDecorator) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidArgument
	}
	genKey := entitlementGenKey(userID)
	if _, err := d.cache.Incr(ctx, genKey); err != nil {
		_ = d.cache.Del(ctx, entitlementKey(userID))
		return err
	}
	// Outlives every value filled under an older generation.
	_ = d.cache.Expire(ctx, genKey, 2*d.ttl)
	return d.cache.Del(ctx, entitlementKey(userID))
}
