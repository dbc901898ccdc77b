// File: internal/usecase/notification_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/domain/ports/repository"
	"premium-subscription-gateway/internal/infra/logging"
	"premium-subscription-gateway/internal/infra/metrics"
	"premium-subscription-gateway/internal/infra/payment"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// Outcome is the terminal state of one inbound notification.
type Outcome string

const (
	OutcomeApplied               Outcome = "applied"
	OutcomeDuplicate             Outcome = "duplicate"
	OutcomeStale                 Outcome = "stale"
	OutcomeRejectedSignature     Outcome = "rejected_signature"
	OutcomeRejectedValidation    Outcome = "rejected_validation"
	OutcomeRejectedSource        Outcome = "rejected_source"
	OutcomeRejectedMerchant      Outcome = "rejected_merchant"
	OutcomeRejectedUnknownRecord Outcome = "rejected_unknown_record"
	OutcomeRejectedUserMismatch  Outcome = "rejected_user_mismatch"
	OutcomeFailedInternal        Outcome = "failed_internal"
)

// Err maps an outcome to the matching domain sentinel; nil for applied.
func (o Outcome) Err() error {
	switch o {
	case OutcomeApplied:
		return nil
	case OutcomeDuplicate:
		return domain.ErrDuplicateNotification
	case OutcomeRejectedSignature:
		return domain.ErrSignatureMismatch
	case OutcomeRejectedValidation:
		return domain.ErrRemoteValidationFailed
	case OutcomeRejectedUnknownRecord:
		return domain.ErrNotFound
	case OutcomeRejectedSource, OutcomeRejectedMerchant, OutcomeRejectedUserMismatch:
		return domain.ErrUnauthorized
	case OutcomeStale:
		return domain.ErrInvalidArgument
	default:
		return domain.ErrUnexpectedInternal
	}
}

// Notification is one inbound delivery as received.
type Notification struct {
	Raw      string // request body, byte for byte
	Fields   payment.Fields
	SourceIP string
}

type NotificationUseCase interface {
	// Handle verifies and applies n. It never fails: every problem ends in an
	// Outcome that the caller acknowledges.
	Handle(ctx context.Context, n Notification) Outcome
}

type notificationUC struct {
	cfg       config.PaymentConfig
	plans     map[string]*model.Plan
	subs      repository.SubscriptionRepository
	ents      EntitlementUseCase
	txm       repository.TransactionManager
	validator adapter.RemoteValidator
	guard     *payment.SourceGuard
	timeout   time.Duration
	log       *zerolog.Logger
	now       func() time.Time
}

func NewNotificationUseCase(
	cfg config.PaymentConfig,
	plans map[string]*model.Plan,
	subs repository.SubscriptionRepository,
	ents EntitlementUseCase,
	txm repository.TransactionManager,
	validator adapter.RemoteValidator,
	guard *payment.SourceGuard,
	logger *zerolog.Logger,
) *notificationUC {
	l := logger.With().Str("component", "NotificationUseCase").Logger()
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &notificationUC{
		cfg:       cfg,
		plans:     plans,
		subs:      subs,
		ents:      ents,
		txm:       txm,
		validator: validator,
		guard:     guard,
		timeout:   timeout,
		log:       &l,
		now:       time.Now,
	}
}

func (uc *notificationUC) Handle(ctx context.Context, n Notification) (out Outcome) {
	// The processor may hang up early; the work must still finish.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeout)
	defer cancel()

	paymentRef := n.Fields.Get(payment.FieldPaymentRef)
	log := logging.With(logging.WithSubscriptionID(ctx, paymentRef), uc.log)
	logEvt := log.With().
		Str("pf_payment_id", n.Fields.Get(payment.FieldProcessorPaymentID)).
		Str("payment_status", n.Fields.Get(payment.FieldPaymentStatus)).
		Str("source_ip", n.SourceIP).
		Logger()
	log = &logEvt

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("notification handler panicked")
			out = OutcomeFailedInternal
		}
		metrics.IncNotification(string(out))
	}()

	if !uc.guard.Allowed(n.SourceIP) {
		log.Warn().Msg("notification from untrusted source")
		return OutcomeRejectedSource
	}
	if got := n.Fields.Get(payment.FieldMerchantID); got != strings.TrimSpace(uc.cfg.MerchantID) {
		log.Warn().Str("merchant_id", got).Msg("notification for another merchant")
		return OutcomeRejectedMerchant
	}
	if !payment.VerifyNotification(n.Fields, uc.cfg.Passphrase) {
		log.Warn().Msg("notification signature mismatch")
		return OutcomeRejectedSignature
	}

	canonical := payment.Encode(n.Fields, payment.NotificationOrder)
	if uc.validator.Validate(ctx, canonical) != adapter.ValidationValid {
		log.Warn().Msg("notification not confirmed by processor")
		return OutcomeRejectedValidation
	}

	if paymentRef == "" {
		log.Warn().Msg("notification without payment reference")
		return OutcomeRejectedUnknownRecord
	}
	sub, err := uc.subs.FindByID(ctx, repository.NoTX, paymentRef)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("notification for unknown subscription")
		return OutcomeRejectedUnknownRecord
	}
	if err != nil {
		log.Error().Err(err).Msg("load subscription failed")
		return OutcomeFailedInternal
	}

	userID, ok := resolveUserID(n.Fields)
	if !ok || userID != sub.UserID {
		log.Warn().Str("claimed_user_id", userID).Str("owner_user_id", sub.UserID).Msg("notification user does not own subscription")
		return OutcomeRejectedUserMismatch
	}

	target := uc.targetStatus(n.Fields, sub, log)
	return uc.apply(ctx, n, sub, target, log)
}

func (uc *notificationUC) apply(ctx context.Context, n Notification, sub *model.Subscription, target model.SubscriptionStatus, log *zerolog.Logger) Outcome {
	at := uc.now().UTC()
	premium, decisive := target.Entitlement()

	var (
		result  repository.ApplyResult
		changed bool
	)
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		_, result, err = uc.subs.ApplyNotification(ctx, tx, repository.NotificationUpdate{
			SubscriptionID:     sub.ID,
			Status:             target,
			Raw:                n.Raw,
			ProcessorPaymentID: n.Fields.Get(payment.FieldProcessorPaymentID),
			At:                 at,
		})
		if err != nil || result != repository.ApplyApplied || !decisive {
			return err
		}
		changed, err = uc.ents.PropagateTx(ctx, tx, sub.UserID, sub.ID, premium, at)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("target_status", string(target)).Msg("apply notification failed")
		return OutcomeFailedInternal
	}

	switch result {
	case repository.ApplyDuplicate:
		log.Info().Msg("duplicate notification acknowledged")
		return OutcomeDuplicate
	case repository.ApplyStale:
		log.Info().Str("current_status", string(sub.Status)).Str("target_status", string(target)).Msg("stale notification ignored")
		return OutcomeStale
	}

	if decisive {
		uc.ents.Committed(ctx, sub.UserID, sub.ID, premium, changed, at)
	}
	log.Info().Str("from", string(sub.Status)).Str("to", string(target)).Msg("notification applied")
	return OutcomeApplied
}

// resolveUserID prefers the explicit user reference and falls back to the id
// embedded in the payment reference.
func resolveUserID(f payment.Fields) (string, bool) {
	if id := f.Get(payment.FieldUserRef); id != "" {
		return id, true
	}
	return model.UserIDFromSubscriptionID(f.Get(payment.FieldPaymentRef))
}

// targetStatus maps the processor's statuses onto ours. payment_status wins;
// subscription_status is consulted only when payment_status says nothing we
// recognise. Access is granted only when the charge covers the plan minimum.
func (uc *notificationUC) targetStatus(f payment.Fields, sub *model.Subscription, log *zerolog.Logger) model.SubscriptionStatus {
	switch strings.ToUpper(f.Get(payment.FieldPaymentStatus)) {
	case "COMPLETE":
		return uc.paidStatus(f, sub, log)
	case "CANCELLED":
		return model.SubscriptionStatusCancelled
	case "FAILED":
		return model.SubscriptionStatusFailed
	case "PENDING":
		return model.SubscriptionStatusPending
	}

	switch strings.ToLower(f.Get(payment.FieldSubscriptionStatus)) {
	case "active":
		return uc.paidStatus(f, sub, log)
	case "cancelled":
		return model.SubscriptionStatusCancelled
	default:
		return model.SubscriptionStatusUnknown
	}
}

func (uc *notificationUC) paidStatus(f payment.Fields, sub *model.Subscription, log *zerolog.Logger) model.SubscriptionStatus {
	raw := f.Get(payment.FieldAmountGross)
	gross, err := decimal.NewFromString(raw)
	if err != nil {
		log.Warn().Str("amount_gross", raw).Msg("unparseable amount on paid notification")
		return model.SubscriptionStatusUnknown
	}
	minimum := uc.minimumFor(sub)
	if gross.LessThan(minimum) {
		log.Warn().Str("amount_gross", gross.StringFixed(2)).Str("minimum", minimum.StringFixed(2)).Msg("short payment")
		return model.SubscriptionStatusUnknown
	}
	return model.SubscriptionStatusActive
}

// minimumFor returns the configured plan minimum, or the price recorded on
// the subscription if the plan has since left the catalogue.
func (uc *notificationUC) minimumFor(sub *model.Subscription) decimal.Decimal {
	if p, ok := uc.plans[sub.Plan]; ok && p != nil {
		return p.MinAmount
	}
	return sub.Amount
}
