//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mock SubscriptionRepository ---

// MockSubscriptionRepo keeps records in memory and applies notifications with
// the same rules as the SQL implementation.
type MockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	CreateFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)

	// Pages counts LatestDecisiveByUser calls.
	Pages int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{subs: make(map[string]*model.Subscription)}
}

func (m *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepo) ApplyNotification(ctx context.Context, tx repository.Tx, upd repository.NotificationUpdate) (*model.Subscription, repository.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[upd.SubscriptionID]
	if !ok {
		return nil, repository.ApplyStale, domain.ErrNotFound
	}
	if s.LastNotification != nil && *s.LastNotification == upd.Raw {
		cp := *s
		return &cp, repository.ApplyDuplicate, nil
	}
	if !model.CanTransition(s.Status, upd.Status) {
		cp := *s
		return &cp, repository.ApplyStale, nil
	}
	raw := upd.Raw
	s.Status = upd.Status
	s.LastNotification = &raw
	if upd.ProcessorPaymentID != "" {
		pid := upd.ProcessorPaymentID
		s.ProcessorPaymentID = &pid
	}
	s.UpdatedAt = upd.At
	cp := *s
	return &cp, repository.ApplyApplied, nil
}

func (m *MockSubscriptionRepo) LatestDecisiveByUser(ctx context.Context, tx repository.Tx, updatedSince time.Time, afterUserID string, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages++
	latest := make(map[string]*model.Subscription)
	for _, s := range m.subs {
		if _, ok := s.Status.Entitlement(); !ok || s.UpdatedAt.Before(updatedSince) || s.UserID <= afterUserID {
			continue
		}
		if cur, ok := latest[s.UserID]; !ok || s.UpdatedAt.After(cur.UpdatedAt) {
			latest[s.UserID] = s
		}
	}
	out := make([]*model.Subscription, 0, len(latest))
	for _, s := range latest {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores a record directly, bypassing Create.
func (m *MockSubscriptionRepo) Put(s *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
}

func (m *MockSubscriptionRepo) Get(id string) *model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// --- Mock EntitlementRepository + EntitlementCache ---

type MockEntitlementRepo struct {
	mu          sync.Mutex
	ents        map[string]*model.Entitlement
	Upserts     int
	Invalidated []string

	UpsertErr error
}

var (
	_ repository.EntitlementRepository = (*MockEntitlementRepo)(nil)
	_ repository.EntitlementCache      = (*MockEntitlementRepo)(nil)
)

func NewMockEntitlementRepo() *MockEntitlementRepo {
	return &MockEntitlementRepo{ents: make(map[string]*model.Entitlement)}
}

func (m *MockEntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, userID, subscriptionID string, premium bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return false, m.UpsertErr
	}
	m.Upserts++
	cur, ok := m.ents[userID]
	if !ok {
		m.ents[userID] = &model.Entitlement{UserID: userID, Premium: premium, SubscriptionID: subscriptionID, ChangedAt: at, UpdatedAt: at}
		return premium, nil
	}
	changed := cur.Premium != premium
	cur.Premium = premium
	cur.SubscriptionID = subscriptionID
	cur.UpdatedAt = at
	if changed {
		cur.ChangedAt = at
	}
	return changed, nil
}

func (m *MockEntitlementRepo) Find(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ents[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockEntitlementRepo) Invalidate(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, userID)
	return nil
}

func (m *MockEntitlementRepo) Premium(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ents[userID]
	return ok && e.Premium
}

// --- Mock TransactionManager ---

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately without a real transaction unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// --- Mock RemoteValidator ---

type MockValidator struct {
	mu           sync.Mutex
	Answer       adapter.Validation
	Calls        []string
	ValidateFunc func(ctx context.Context, canonical string) adapter.Validation
}

var _ adapter.RemoteValidator = (*MockValidator)(nil)

func (m *MockValidator) Validate(ctx context.Context, canonical string) adapter.Validation {
	m.mu.Lock()
	m.Calls = append(m.Calls, canonical)
	m.mu.Unlock()
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, canonical)
	}
	return m.Answer
}

// --- Mock EventPublisher ---

type MockEventPublisher struct {
	mu     sync.Mutex
	Events []adapter.EntitlementEvent
	Err    error
}

var _ adapter.EventPublisher = (*MockEventPublisher)(nil)

func (m *MockEventPublisher) PublishEntitlement(ctx context.Context, ev adapter.EntitlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockEventPublisher) Close() error { return nil }

func (m *MockEventPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// --- Mock RateLimiter ---

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Keys      []string
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.Keys = append(m.Keys, key)
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}
