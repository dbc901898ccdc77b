package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"premium-subscription-gateway/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"   // created, user redirected to the processor
	SubscriptionStatusActive    SubscriptionStatus = "active"    // paid in full, entitlement granted
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled" // cancelled at the processor
	SubscriptionStatusFailed    SubscriptionStatus = "failed"    // payment failed
	SubscriptionStatusUnknown   SubscriptionStatus = "unknown"   // notification we could not map, or short payment
)

// idSeparator joins the owning user id and a ULID in a subscription id.
const idSeparator = "-"

// Subscription is the durable record behind one recurring payment.
// ID doubles as the processor's m_payment_id.
type Subscription struct {
	ID                 string
	UserID             string
	Status             SubscriptionStatus
	Plan               string
	Amount             decimal.Decimal
	Frequency          int
	Cycles             int
	LastNotification   *string // raw body of the last accepted notification
	ProcessorPaymentID *string // pf_payment_id of the last accepted notification
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewSubscription creates a pending subscription for userID on plan.
func NewSubscription(userID string, plan *Plan) (*Subscription, error) {
	if strings.TrimSpace(userID) == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Subscription{
		ID:        NewSubscriptionID(userID, now),
		UserID:    userID,
		Status:    SubscriptionStatusPending,
		Plan:      plan.Code,
		Amount:    plan.Amount,
		Frequency: plan.Frequency,
		Cycles:    plan.Cycles,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewSubscriptionID embeds the user id so a notification that lost its
// explicit user reference can still be attributed.
func NewSubscriptionID(userID string, at time.Time) string {
	return userID + idSeparator + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// UserIDFromSubscriptionID recovers the user id from an id built by NewSubscriptionID.
func UserIDFromSubscriptionID(id string) (string, bool) {
	i := strings.LastIndex(id, idSeparator)
	if i <= 0 || i == len(id)-1 {
		return "", false
	}
	if _, err := ulid.ParseStrict(id[i+1:]); err != nil {
		return "", false
	}
	return id[:i], true
}

func (s SubscriptionStatus) rank() int {
	switch s {
	case SubscriptionStatusPending:
		return 0
	case SubscriptionStatusUnknown:
		return 1
	case SubscriptionStatusActive:
		return 2
	case SubscriptionStatusCancelled, SubscriptionStatusFailed:
		return 3
	default:
		return -1
	}
}

func (s SubscriptionStatus) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no further status change is possible.
func (s SubscriptionStatus) Terminal() bool { return s.rank() == 3 }

// CanTransition reports whether a record in status from may move to to.
// Status only moves forward; re-applying the same status is allowed so
// recurring charges can refresh the audit fields.
func CanTransition(from, to SubscriptionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.rank() >= from.rank()
}

// AllowedFrom lists every status a record may be in for a move to to.
func AllowedFrom(to SubscriptionStatus) []SubscriptionStatus {
	all := []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusUnknown,
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusFailed,
	}
	out := make([]SubscriptionStatus, 0, len(all))
	for _, from := range all {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Entitlement maps a status to the premium flag it implies. ok is false for
// statuses that leave the flag untouched.
func (s SubscriptionStatus) Entitlement() (premium bool, ok bool) {
	switch s {
	case SubscriptionStatusActive:
		return true, true
	case SubscriptionStatusCancelled, SubscriptionStatusFailed:
		return false, true
	default:
		return false, false
	}
}
