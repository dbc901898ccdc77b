//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/domain/ports/repository"
	"premium-subscription-gateway/internal/infra/payment"
	"premium-subscription-gateway/internal/usecase"
)

const (
	testMerchantID = "10000100"
	testPassphrase = "jt7NOE43FZPn"
)

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		Mode:        payment.ModeSandbox,
		MerchantID:  testMerchantID,
		MerchantKey: "46f0cd694581a",
		Passphrase:  testPassphrase,
		ReturnURL:   "https://app.example.com/payment/return",
		CancelURL:   "https://app.example.com/payment/cancel",
		NotifyURL:   "https://app.example.com/api/v1/payment/notify",
	}
}

func testPlans() map[string]*model.Plan {
	p, err := model.NewPlan("monthly", "Monthly Plan", decimal.RequireFromString("99.00"), decimal.Zero, model.FrequencyMonthly, 0)
	if err != nil {
		panic(err)
	}
	return map[string]*model.Plan{"monthly": p}
}

type notifyFixture struct {
	subs      *MockSubscriptionRepo
	ents      *MockEntitlementRepo
	events    *MockEventPublisher
	validator *MockValidator
	sub       *model.Subscription
	uc        usecase.NotificationUseCase
}

func newNotifyFixture(t *testing.T, guard *payment.SourceGuard) *notifyFixture {
	t.Helper()
	f := &notifyFixture{
		subs:      NewMockSubscriptionRepo(),
		ents:      NewMockEntitlementRepo(),
		events:    &MockEventPublisher{},
		validator: &MockValidator{Answer: adapter.ValidationValid},
	}
	sub, err := model.NewSubscription("user-1", testPlans()["monthly"])
	if err != nil {
		t.Fatalf("NewSubscription: %v", err)
	}
	f.sub = sub
	f.subs.Put(sub)

	logger := newTestLogger()
	ents := usecase.NewEntitlementUseCase(f.ents, f.ents, f.subs, f.events, logger)
	f.uc = usecase.NewNotificationUseCase(testPaymentConfig(), testPlans(), f.subs, ents, NewMockTxManager(), f.validator, guard, logger)
	return f
}

func (f *notifyFixture) fields(status, amount string) map[payment.Field]any {
	return map[payment.Field]any{
		payment.FieldPaymentRef:         f.sub.ID,
		payment.FieldProcessorPaymentID: "1089250",
		payment.FieldPaymentStatus:      status,
		payment.FieldItemName:           "Monthly Plan",
		payment.FieldAmountGross:        amount,
		payment.FieldAmountFee:          "-2.28",
		payment.FieldAmountNet:          "96.72",
		payment.FieldUserRef:            f.sub.UserID,
		payment.FieldMerchantID:         testMerchantID,
	}
}

// signedNotification signs kv the way the processor does and renders the body.
func signedNotification(kv map[payment.Field]any, passphrase string) usecase.Notification {
	f := payment.NewFields(kv)
	f.Set(payment.FieldSignature, payment.Sign(f, payment.NotificationOrder, passphrase))
	form := url.Values{}
	for _, name := range f.Ordered(payment.NotificationOrder) {
		form.Set(string(name), f.Get(name))
	}
	return usecase.Notification{Raw: form.Encode(), Fields: f, SourceIP: "197.97.145.150"}
}

func TestNotificationUseCase_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("replay is applied once then acknowledged as duplicate", func(t *testing.T) {
		// --- Arrange ---
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)

		// --- Act ---
		first := f.uc.Handle(ctx, n)
		second := f.uc.Handle(ctx, n)

		// --- Assert ---
		if first != usecase.OutcomeApplied {
			t.Fatalf("expected first delivery applied, got %s", first)
		}
		if second != usecase.OutcomeDuplicate {
			t.Fatalf("expected replay to be duplicate, got %s", second)
		}
		if !errors.Is(second.Err(), domain.ErrDuplicateNotification) {
			t.Errorf("duplicate outcome should map to ErrDuplicateNotification, got %v", second.Err())
		}
		if got := f.subs.Get(f.sub.ID); got.Status != model.SubscriptionStatusActive || got.LastNotification == nil || *got.LastNotification != n.Raw {
			t.Errorf("unexpected record after apply: %+v", got)
		}
		if !f.ents.Premium("user-1") {
			t.Error("expected entitlement granted")
		}
		if f.ents.Upserts != 1 {
			t.Errorf("expected a single entitlement write, got %d", f.ents.Upserts)
		}
		if f.events.Count() != 1 {
			t.Errorf("expected a single entitlement event, got %d", f.events.Count())
		}
	})

	t.Run("concurrent identical deliveries apply once", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)

		const workers = 10
		outcomes := make(chan usecase.Outcome, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes <- f.uc.Handle(ctx, n)
			}()
		}
		wg.Wait()
		close(outcomes)

		applied := 0
		for o := range outcomes {
			switch o {
			case usecase.OutcomeApplied:
				applied++
			case usecase.OutcomeDuplicate:
			default:
				t.Errorf("unexpected outcome %s", o)
			}
		}
		if applied != 1 {
			t.Errorf("expected exactly one applied delivery, got %d", applied)
		}
		if f.events.Count() != 1 {
			t.Errorf("expected one entitlement event, got %d", f.events.Count())
		}
	})

	t.Run("INVALID from the processor never transitions", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.validator.Answer = adapter.ValidationInvalid
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeRejectedValidation {
			t.Fatalf("expected rejected_validation, got %s", got)
		}
		if got := f.subs.Get(f.sub.ID); got.Status != model.SubscriptionStatusPending || got.LastNotification != nil {
			t.Errorf("record must be untouched, got %+v", got)
		}
		if f.ents.Premium("user-1") {
			t.Error("entitlement must not be granted")
		}
	})

	t.Run("remote validation receives the secret-less canonical string", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)

		f.uc.Handle(ctx, n)

		if len(f.validator.Calls) != 1 {
			t.Fatalf("expected one validation call, got %d", len(f.validator.Calls))
		}
		want := payment.Encode(n.Fields, payment.NotificationOrder)
		if f.validator.Calls[0] != want {
			t.Errorf("validator got %q, want %q", f.validator.Calls[0], want)
		}
	})

	t.Run("short payment never grants access", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "9.00"), testPassphrase)

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %s", got)
		}
		if got := f.subs.Get(f.sub.ID); got.Status != model.SubscriptionStatusUnknown {
			t.Errorf("expected unknown status for short payment, got %s", got.Status)
		}
		if f.ents.Premium("user-1") || f.ents.Upserts != 0 {
			t.Error("short payment must not touch the entitlement")
		}
	})

	t.Run("tampered amount is a signature mismatch", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)
		n.Fields.Set(payment.FieldAmountGross, "199.00")

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeRejectedSignature {
			t.Fatalf("expected rejected_signature, got %s", got)
		}
		if len(f.validator.Calls) != 0 {
			t.Error("processor must not be asked about a badly signed notification")
		}
	})

	t.Run("wrong passphrase is a signature mismatch", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		n := signedNotification(f.fields("COMPLETE", "99.00"), "other")

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeRejectedSignature {
			t.Fatalf("expected rejected_signature, got %s", got)
		}
	})

	t.Run("foreign user reference is rejected", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		kv := f.fields("COMPLETE", "99.00")
		kv[payment.FieldUserRef] = "user-2"
		n := signedNotification(kv, testPassphrase)

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeRejectedUserMismatch {
			t.Fatalf("expected rejected_user_mismatch, got %s", got)
		}
		if f.ents.Premium("user-2") || f.ents.Premium("user-1") {
			t.Error("no entitlement may change")
		}
	})

	t.Run("user falls back to the payment reference", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		kv := f.fields("COMPLETE", "99.00")
		delete(kv, payment.FieldUserRef)
		n := signedNotification(kv, testPassphrase)

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %s", got)
		}
		if !f.ents.Premium("user-1") {
			t.Error("expected entitlement granted to the embedded user")
		}
	})

	t.Run("cancellation after activation revokes", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.uc.Handle(ctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase))

		kv := f.fields("CANCELLED", "")
		kv[payment.FieldProcessorPaymentID] = "1089251"
		if got := f.uc.Handle(ctx, signedNotification(kv, testPassphrase)); got != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %s", got)
		}
		if f.ents.Premium("user-1") {
			t.Error("expected entitlement revoked")
		}
		if f.events.Count() != 2 {
			t.Errorf("expected grant and revoke events, got %d", f.events.Count())
		}
	})

	t.Run("out of order notification is stale", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.uc.Handle(ctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase))

		got := f.uc.Handle(ctx, signedNotification(f.fields("PENDING", "99.00"), testPassphrase))
		if got != usecase.OutcomeStale {
			t.Fatalf("expected stale, got %s", got)
		}
		if s := f.subs.Get(f.sub.ID); s.Status != model.SubscriptionStatusActive {
			t.Errorf("status must not regress, got %s", s.Status)
		}
	})

	t.Run("unknown record is rejected", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		kv := f.fields("COMPLETE", "99.00")
		kv[payment.FieldPaymentRef] = "user-1-01HZX3V6Q5Y2B0S9Z1N8K7M4PA"

		if got := f.uc.Handle(ctx, signedNotification(kv, testPassphrase)); got != usecase.OutcomeRejectedUnknownRecord {
			t.Fatalf("expected rejected_unknown_record, got %s", got)
		}
	})

	t.Run("foreign merchant is rejected", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		kv := f.fields("COMPLETE", "99.00")
		kv[payment.FieldMerchantID] = "999"

		if got := f.uc.Handle(ctx, signedNotification(kv, testPassphrase)); got != usecase.OutcomeRejectedMerchant {
			t.Fatalf("expected rejected_merchant, got %s", got)
		}
	})

	t.Run("untrusted source is rejected", func(t *testing.T) {
		guard, err := payment.NewSourceGuard(payment.DefaultProcessorCIDRs)
		if err != nil {
			t.Fatalf("NewSourceGuard: %v", err)
		}
		f := newNotifyFixture(t, guard)
		n := signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)
		n.SourceIP = "10.1.2.3"

		if got := f.uc.Handle(ctx, n); got != usecase.OutcomeRejectedSource {
			t.Fatalf("expected rejected_source, got %s", got)
		}
	})

	t.Run("panic is recovered and acknowledged", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.validator.ValidateFunc = func(ctx context.Context, canonical string) adapter.Validation {
			panic("boom")
		}

		got := f.uc.Handle(ctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase))
		if got != usecase.OutcomeFailedInternal {
			t.Fatalf("expected failed_internal, got %s", got)
		}
	})

	t.Run("storage failure is failed_internal and leaves entitlement alone", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.ents.UpsertErr = errors.New("db down")

		got := f.uc.Handle(ctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase))
		if got != usecase.OutcomeFailedInternal {
			t.Fatalf("expected failed_internal, got %s", got)
		}
		if f.events.Count() != 0 {
			t.Error("no event may be published for a failed apply")
		}
	})

	t.Run("cancelled request context still completes", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		var sawErr error
		f.validator.ValidateFunc = func(ctx context.Context, canonical string) adapter.Validation {
			sawErr = ctx.Err()
			return adapter.ValidationValid
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		got := f.uc.Handle(cctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase))
		if got != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %s", got)
		}
		if sawErr != nil {
			t.Errorf("validator saw a cancelled context: %v", sawErr)
		}
	})

	t.Run("transaction is used for the apply", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		txm := NewMockTxManager()
		used := false
		txm.WithTxFunc = func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			used = true
			return fn(ctx, "tx")
		}
		logger := newTestLogger()
		ents := usecase.NewEntitlementUseCase(f.ents, f.ents, f.subs, f.events, logger)
		uc := usecase.NewNotificationUseCase(testPaymentConfig(), testPlans(), f.subs, ents, txm, f.validator, nil, logger)

		if got := uc.Handle(ctx, signedNotification(f.fields("COMPLETE", "99.00"), testPassphrase)); got != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %s", got)
		}
		if !used {
			t.Error("expected the apply to run in a transaction")
		}
	})
}
