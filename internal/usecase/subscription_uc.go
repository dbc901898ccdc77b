// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/domain/ports/repository"
	"premium-subscription-gateway/internal/infra/metrics"
	"premium-subscription-gateway/internal/infra/payment"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// subscriptionTypeRecurring asks the processor for a subscription rather than
// a one-off payment.
const subscriptionTypeRecurring = 1

type SubscriptionUseCase interface {
	// Initiate creates a pending subscription and returns the signed redirect
	// request that starts payment at the processor.
	Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error)
}

type InitiateRequest struct {
	UserID    string
	PlanCode  string
	NameFirst string
	NameLast  string
	Email     string
}

// Checkout is what the caller hands to the browser.
type Checkout struct {
	Subscription *model.Subscription
	Request      *payment.SignedRequest
}

type subscriptionUC struct {
	cfg     config.PaymentConfig
	plans   map[string]*model.Plan
	subs    repository.SubscriptionRepository
	limiter adapter.RateLimiter
	limit   int
	log     *zerolog.Logger
	now     func() time.Time
}

// NewSubscriptionUseCase wires the initiator. limiter may be nil to disable
// per-user rate limiting.
func NewSubscriptionUseCase(
	cfg config.PaymentConfig,
	plans map[string]*model.Plan,
	subs repository.SubscriptionRepository,
	limiter adapter.RateLimiter,
	perMinute int,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &subscriptionUC{
		cfg:     cfg,
		plans:   plans,
		subs:    subs,
		limiter: limiter,
		limit:   perMinute,
		log:     &l,
		now:     time.Now,
	}
}

func initiateRateKey(userID string) string {
	return "rate_limit:initiate:" + userID
}

func (uc *subscriptionUC) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.PlanCode = strings.TrimSpace(req.PlanCode)

	// Nothing external is touched until the configuration is known to be complete.
	if err := uc.cfg.Validate(); err != nil {
		metrics.IncSubscriptionInitiated(req.PlanCode, "config_error")
		uc.log.Error().Err(err).Msg("payment configuration incomplete")
		return nil, err
	}

	if req.UserID == "" {
		metrics.IncSubscriptionInitiated(req.PlanCode, "invalid")
		return nil, domain.ErrInvalidArgument
	}
	plan, ok := uc.plans[req.PlanCode]
	if !ok || plan == nil {
		metrics.IncSubscriptionInitiated("unknown", "invalid")
		return nil, domain.ErrInvalidArgument
	}

	if uc.limiter != nil && uc.limit > 0 {
		allowed, err := uc.limiter.Allow(ctx, initiateRateKey(req.UserID), uc.limit, time.Minute)
		switch {
		case err != nil:
			uc.log.Warn().Err(err).Str("user_id", req.UserID).Msg("rate limiter unavailable; allowing")
		case !allowed:
			metrics.IncSubscriptionInitiated(plan.Code, "rate_limited")
			return nil, domain.ErrRateLimited
		}
	}

	sub, err := model.NewSubscription(req.UserID, plan)
	if err != nil {
		metrics.IncSubscriptionInitiated(plan.Code, "invalid")
		return nil, err
	}
	if err := uc.subs.Create(ctx, repository.NoTX, sub); err != nil {
		metrics.IncSubscriptionInitiated(plan.Code, "persistence_error")
		uc.log.Error().Err(err).Str("user_id", req.UserID).Str("subscription_id", sub.ID).Msg("create subscription failed")
		var perr *domain.PersistenceError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, domain.NewPersistenceError("subscription.create", err)
	}

	signed := payment.NewSignedRequest(uc.cfg.Mode.ProcessURL(), uc.requestFields(sub, plan, req), uc.cfg.Passphrase)

	metrics.IncSubscriptionInitiated(plan.Code, "ok")
	uc.log.Info().
		Str("user_id", req.UserID).
		Str("subscription_id", sub.ID).
		Str("plan", plan.Code).
		Msg("subscription initiated")
	return &Checkout{Subscription: sub, Request: signed}, nil
}

func (uc *subscriptionUC) requestFields(sub *model.Subscription, plan *model.Plan, req InitiateRequest) payment.Fields {
	return payment.NewFields(map[payment.Field]any{
		payment.FieldMerchantID:       uc.cfg.MerchantID,
		payment.FieldMerchantKey:      uc.cfg.MerchantKey,
		payment.FieldReturnURL:        uc.cfg.ReturnURL,
		payment.FieldCancelURL:        uc.cfg.CancelURL,
		payment.FieldNotifyURL:        uc.cfg.NotifyURL,
		payment.FieldNameFirst:        req.NameFirst,
		payment.FieldNameLast:         req.NameLast,
		payment.FieldEmailAddress:     req.Email,
		payment.FieldPaymentRef:       sub.ID,
		payment.FieldAmount:           plan.Amount,
		payment.FieldItemName:         plan.Name,
		payment.FieldUserRef:          sub.UserID,
		payment.FieldSubscriptionType: subscriptionTypeRecurring,
		payment.FieldBillingDate:      uc.now().UTC(),
		payment.FieldRecurringAmount:  plan.Amount,
		payment.FieldFrequency:        plan.Frequency,
		payment.FieldCycles:           plan.Cycles,
	})
}
