//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/ports/repository"
)

type fakeEntUC struct {
	mu     sync.Mutex
	sinces []time.Time
	n      int
	err    error
}

func (f *fakeEntUC) Propagate(context.Context, string, string, bool) (bool, error) { return false, nil }
func (f *fakeEntUC) PropagateTx(context.Context, repository.Tx, string, string, bool, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeEntUC) Committed(context.Context, string, string, bool, bool, time.Time) {}
func (f *fakeEntUC) IsPremium(context.Context, string) (bool, error)                 { return false, nil }
func (f *fakeEntUC) Reconcile(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.n, f.err
}

func (f *fakeEntUC) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinces)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	lockErr  error
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockErr != nil {
		return "", l.lockErr
	}
	if l.held {
		return "", domain.ErrLockNotAcquired
	}
	l.held = true
	return "tok", nil
}

func (l *fakeLocker) Unlock(_ context.Context, _, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == "tok" {
		l.held = false
		l.unlocked++
	}
	return nil
}

func newLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestEntitlementReconciler_RunOnce(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("reconciles the configured window and releases the lock", func(t *testing.T) {
		uc := &fakeEntUC{n: 3}
		locker := &fakeLocker{}
		w := NewEntitlementReconciler(time.Minute, 6*time.Hour, uc, locker, newLogger())
		w.now = func() time.Time { return fixed }

		n, err := w.RunOnce(ctx)

		if err != nil || n != 3 {
			t.Fatalf("got (%d, %v), want (3, nil)", n, err)
		}
		if want := fixed.Add(-6 * time.Hour); !uc.sinces[0].Equal(want) {
			t.Errorf("since = %s, want %s", uc.sinces[0], want)
		}
		if locker.held || locker.unlocked != 1 {
			t.Errorf("lock not released: held=%v unlocked=%d", locker.held, locker.unlocked)
		}
	})

	t.Run("skips while another replica holds the lock", func(t *testing.T) {
		uc := &fakeEntUC{}
		locker := &fakeLocker{held: true}
		w := NewEntitlementReconciler(time.Minute, time.Hour, uc, locker, newLogger())

		n, err := w.RunOnce(ctx)

		if err != nil || n != 0 {
			t.Fatalf("got (%d, %v), want (0, nil)", n, err)
		}
		if uc.calls() != 0 {
			t.Error("reconcile must not run without the lock")
		}
	})

	t.Run("runs unlocked when the lock backend fails", func(t *testing.T) {
		uc := &fakeEntUC{}
		w := NewEntitlementReconciler(time.Minute, time.Hour, uc, &fakeLocker{lockErr: errors.New("redis down")}, newLogger())

		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		if uc.calls() != 1 {
			t.Errorf("expected one pass, got %d", uc.calls())
		}
	})

	t.Run("nil locker runs directly and surfaces errors", func(t *testing.T) {
		uc := &fakeEntUC{err: errors.New("db down")}
		w := NewEntitlementReconciler(time.Minute, time.Hour, uc, nil, newLogger())

		if _, err := w.RunOnce(ctx); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestEntitlementReconciler_RunStopsOnCancel(t *testing.T) {
	uc := &fakeEntUC{}
	w := NewEntitlementReconciler(10*time.Millisecond, time.Hour, uc, nil, newLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for uc.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("reconciler never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
