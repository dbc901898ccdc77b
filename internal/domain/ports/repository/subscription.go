package repository

import (
	"context"
	"time"

	"premium-subscription-gateway/internal/domain/model"
)

// ApplyResult classifies the outcome of ApplyNotification.
type ApplyResult int

const (
	ApplyApplied   ApplyResult = iota // row updated
	ApplyDuplicate                    // last_notification already equals the payload
	ApplyStale                        // transition not allowed from the current status
)

func (r ApplyResult) String() string {
	switch r {
	case ApplyApplied:
		return "applied"
	case ApplyDuplicate:
		return "duplicate"
	case ApplyStale:
		return "stale"
	default:
		return "unknown"
	}
}

// NotificationUpdate is the merge written for one accepted notification.
type NotificationUpdate struct {
	SubscriptionID     string
	Status             model.SubscriptionStatus
	Raw                string
	ProcessorPaymentID string
	At                 time.Time
}

// SubscriptionRepository is the port for subscription records.
type SubscriptionRepository interface {
	// Create inserts a new record; an existing id yields domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)

	// ApplyNotification merges status and last_notification in one atomic
	// conditional write. It returns domain.ErrNotFound for an unknown id.
	ApplyNotification(ctx context.Context, tx Tx, upd NotificationUpdate) (*model.Subscription, ApplyResult, error)

	// LatestDecisiveByUser returns, per user, the most recently updated record
	// whose status implies an entitlement value (active, cancelled, failed).
	// Results are ordered by user id and start after afterUserID, so callers
	// page with the last user id of the previous page.
	LatestDecisiveByUser(ctx context.Context, tx Tx, updatedSince time.Time, afterUserID string, limit int) ([]*model.Subscription, error)
}
