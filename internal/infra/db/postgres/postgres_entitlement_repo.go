package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/repository"
)

var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

// Upsert stores premium for userID. changed_at only moves when the flag flips.
func (r *entitlementRepo) Upsert(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidArgument
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	const q = `
WITH prev AS (
  SELECT premium FROM entitlements WHERE user_id=$1 FOR UPDATE
)
INSERT INTO entitlements (user_id, premium, subscription_id, changed_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id) DO UPDATE SET
  premium = EXCLUDED.premium,
  subscription_id = EXCLUDED.subscription_id,
  changed_at = CASE WHEN entitlements.premium IS DISTINCT FROM EXCLUDED.premium
                    THEN EXCLUDED.changed_at ELSE entitlements.changed_at END,
  updated_at = EXCLUDED.updated_at
RETURNING (SELECT premium FROM prev);`

	row, err := pickRow(ctx, r.pool, tx, q, userID, premium, subscriptionID, at)
	if err != nil {
		return false, err
	}
	var prev *bool
	if err := row.Scan(&prev); err != nil {
		return false, domain.NewPersistenceError("entitlement.upsert", err)
	}
	// A new row counts as a change only when it grants access: absence reads as false.
	if prev == nil {
		return premium, nil
	}
	return *prev != premium, nil
}

func (r *entitlementRepo) Find(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	const q = `
SELECT user_id, premium, subscription_id, changed_at, updated_at
  FROM entitlements
 WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var e model.Entitlement
	if err := row.Scan(&e.UserID, &e.Premium, &e.SubscriptionID, &e.ChangedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewPersistenceError("entitlement.find", err)
	}
	return &e, nil
}
