package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/infra/redis"
	"premium-subscription-gateway/internal/usecase"
)

const reconcileLockKey = "lock:entitlement-reconciler"

// EntitlementReconciler periodically re-projects premium flags from the
// latest decisive subscription of each recently active user. It repairs
// flags lost when a process died between commit and cache/event side effects.
type EntitlementReconciler struct {
	interval time.Duration
	window   time.Duration
	entUC    usecase.EntitlementUseCase
	locker   redis.Locker
	log      *zerolog.Logger
	now      func() time.Time
}

// NewEntitlementReconciler builds the worker. locker may be nil for a single replica.
func NewEntitlementReconciler(interval, window time.Duration, entUC usecase.EntitlementUseCase, locker redis.Locker, logger *zerolog.Logger) *EntitlementReconciler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	l := logger.With().Str("component", "EntitlementReconciler").Logger()
	return &EntitlementReconciler{
		interval: interval,
		window:   window,
		entUC:    entUC,
		locker:   locker,
		log:      &l,
		now:      time.Now,
	}
}

func (w *EntitlementReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("window", w.window).Msg("Starting entitlement reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping entitlement reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("entitlement reconcile failed")
			}
		}
	}
}

// RunOnce performs a single pass. Another replica holding the lock is not an error.
func (w *EntitlementReconciler) RunOnce(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLockKey, w.interval)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			w.log.Debug().Msg("reconcile skipped; another replica holds the lock")
			return 0, nil
		case err != nil:
			// a pass is idempotent, so a lost lock only costs duplicate work
			w.log.Warn().Err(err).Msg("reconcile lock unavailable; running unlocked")
		default:
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcileLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("reconcile unlock failed")
				}
			}()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	n, err := w.entUC.Reconcile(runCtx, w.now().Add(-w.window))
	if err != nil {
		return n, err
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("entitlements repaired")
	}
	return n, nil
}
