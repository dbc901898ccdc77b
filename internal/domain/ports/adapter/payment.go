package adapter

import (
	"context"
	"time"
)

// Validation is the processor's answer to a confirmation request.
type Validation string

const (
	ValidationValid   Validation = "VALID"
	ValidationInvalid Validation = "INVALID"
)

// RemoteValidator asks the processor whether a notification is authentic.
// Implementations fail closed: any transport problem is ValidationInvalid.
type RemoteValidator interface {
	Validate(ctx context.Context, canonical string) Validation
}

// EntitlementEvent is published whenever a user's premium flag flips.
type EntitlementEvent struct {
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	Premium        bool      `json:"premium"`
	ChangedAt      time.Time `json:"changed_at"`
}

// EventPublisher forwards entitlement changes to downstream consumers
// (claim updaters, feature gates). Delivery is at-least-once.
type EventPublisher interface {
	PublishEntitlement(ctx context.Context, ev EntitlementEvent) error
	Close() error
}

// RateLimiter counts attempts per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
