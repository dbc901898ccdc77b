package repository

import (
	"context"
	"time"

	"premium-subscription-gateway/internal/domain/model"
)

// EntitlementRepository persists the per-user premium flag.
type EntitlementRepository interface {
	// Upsert writes premium for userID. changed is true only when the stored
	// flag flipped; a missing row reads as not premium.
	Upsert(ctx context.Context, tx Tx, userID, subscriptionID string, premium bool, at time.Time) (changed bool, err error)
	Find(ctx context.Context, tx Tx, userID string) (*model.Entitlement, error)
}

// EntitlementCache drops a user's cached flag once a change is committed.
type EntitlementCache interface {
	Invalidate(ctx context.Context, userID string) error
}
