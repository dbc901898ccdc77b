// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/domain/ports/repository"
	"premium-subscription-gateway/internal/infra/metrics"
)

var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase owns the per-user premium flag. It knows nothing about
// payments, only (user, subscription, premium).
type EntitlementUseCase interface {
	// Propagate sets the flag outside any caller transaction. Calling it twice
	// with the same value is a no-op.
	Propagate(ctx context.Context, userID, subscriptionID string, premium bool) (changed bool, err error)
	// PropagateTx writes the flag inside tx. The caller must invoke Committed
	// once tx has committed.
	PropagateTx(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (changed bool, err error)
	// Committed drops the cached flag and announces a flip.
	Committed(ctx context.Context, userID, subscriptionID string, premium, changed bool, at time.Time)
	IsPremium(ctx context.Context, userID string) (bool, error)
	// Reconcile re-projects the flag from each user's latest decisive record
	// updated after since. It returns the number of flags repaired.
	Reconcile(ctx context.Context, since time.Time) (int, error)
}

type entitlementUC struct {
	ents   repository.EntitlementRepository
	cache  repository.EntitlementCache
	subs   repository.SubscriptionRepository
	events adapter.EventPublisher
	log    *zerolog.Logger
	now    func() time.Time
}

func NewEntitlementUseCase(
	ents repository.EntitlementRepository,
	cache repository.EntitlementCache,
	subs repository.SubscriptionRepository,
	events adapter.EventPublisher,
	logger *zerolog.Logger,
) *entitlementUC {
	l := logger.With().Str("component", "EntitlementUseCase").Logger()
	return &entitlementUC{ents: ents, cache: cache, subs: subs, events: events, log: &l, now: time.Now}
}

func (uc *entitlementUC) Propagate(ctx context.Context, userID, subscriptionID string, premium bool) (bool, error) {
	at := uc.now().UTC()
	changed, err := uc.PropagateTx(ctx, repository.NoTX, userID, subscriptionID, premium, at)
	if err != nil {
		return false, err
	}
	uc.Committed(ctx, userID, subscriptionID, premium, changed, at)
	return changed, nil
}

func (uc *entitlementUC) PropagateTx(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidArgument
	}
	changed, err := uc.ents.Upsert(ctx, tx, userID, subscriptionID, premium, at)
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (uc *entitlementUC) Committed(ctx context.Context, userID, subscriptionID string, premium, changed bool, at time.Time) {
	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, userID); err != nil {
			uc.log.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache invalidation failed")
		}
	}
	if !changed {
		return
	}
	metrics.IncEntitlementChange(premium)
	uc.log.Info().Str("user_id", userID).Str("subscription_id", subscriptionID).Bool("premium", premium).Msg("entitlement changed")

	if uc.events == nil {
		return
	}
	ev := adapter.EntitlementEvent{UserID: userID, SubscriptionID: subscriptionID, Premium: premium, ChangedAt: at}
	if err := uc.events.PublishEntitlement(ctx, ev); err != nil {
		uc.log.Error().Err(err).Str("user_id", userID).Msg("entitlement event not published")
	}
}

func (uc *entitlementUC) IsPremium(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidArgument
	}
	e, err := uc.ents.Find(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Premium, nil
}

const reconcileBatch = 1000

func (uc *entitlementUC) Reconcile(ctx context.Context, since time.Time) (int, error) {
	repaired := 0
	defer func() { metrics.AddEntitlementReconciled(repaired) }()

	after := ""
	for {
		subs, err := uc.subs.LatestDecisiveByUser(ctx, repository.NoTX, since, after, reconcileBatch)
		if err != nil {
			return repaired, err
		}
		for _, s := range subs {
			if ctx.Err() != nil {
				return repaired, ctx.Err()
			}
			if uc.reconcileOne(ctx, s) {
				repaired++
			}
		}
		if len(subs) < reconcileBatch {
			return repaired, nil
		}
		after = subs[len(subs)-1].UserID
	}
}

// reconcileOne reports whether it had to repair s's user.
func (uc *entitlementUC) reconcileOne(ctx context.Context, s *model.Subscription) bool {
	want, ok := s.Status.Entitlement()
	if !ok {
		return false
	}
	cur, err := uc.ents.Find(ctx, repository.NoTX, s.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !want {
			return false
		}
	case err != nil:
		uc.log.Error().Err(err).Str("user_id", s.UserID).Msg("reconcile: load entitlement failed")
		return false
	case cur.Premium == want:
		return false
	}

	if _, err := uc.Propagate(ctx, s.UserID, s.ID, want); err != nil {
		uc.log.Error().Err(err).Str("user_id", s.UserID).Msg("reconcile: propagate failed")
		return false
	}
	uc.log.Warn().Str("user_id", s.UserID).Str("subscription_id", s.ID).Bool("premium", want).Msg("entitlement drift repaired")
	return true
}
