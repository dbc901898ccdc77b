package model

import "time"

// Entitlement is the per-user premium flag, a projection of the latest
// accepted subscription transition for that user.
type Entitlement struct {
	UserID         string
	Premium        bool
	SubscriptionID string
	ChangedAt      time.Time // last time Premium flipped
	UpdatedAt      time.Time
}
