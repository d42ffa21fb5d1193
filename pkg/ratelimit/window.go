// Package ratelimit enforces N-actions-per-identifier-per-window throttles.
// The durable Limiter counts in the backing store with optimistic increments;
// MemoryLimiter is a process-local, non-durable variant for high-volume
// lookup paths. Both are abuse deterrents, not hard admission control.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"agentidentity/pkg/domain"
)

// Action names counted by the durable limiter.
const (
	ActionRegistration = "registration"
	ActionWorkReport   = "work_report"
)

// Default limits.
const (
	RegistrationsPerIP  = 10
	WorkReportsPerAgent = 5
	LimitWindow         = 24 * time.Hour
)

// WindowStore is the slice of persistence the durable limiter needs.
// GetRateWindow reports not-found through its bool, never through the error.
type WindowStore interface {
	DeleteExpiredRateWindow(ctx context.Context, identifier, action string, olderThan time.Time) error
	InsertRateWindow(ctx context.Context, identifier, action string, start time.Time) (created bool, err error)
	GetRateWindow(ctx context.Context, identifier, action string) (domain.RateLimitWindow, bool, error)
	IncrementRateWindow(ctx context.Context, id int64, expectedCount int) (bool, error)
}

type Limiter struct {
	store WindowStore
	now   func() time.Time
}

func New(store WindowStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// TryConsume counts one action for identifier and reports whether it is
// within max per window. Expired windows for the pair are dropped first; a
// fresh window insert means the action is the first of a new window. On an
// existing window the count is advanced with a compare-and-swap on the
// observed value. A CAS lost to a concurrent writer allows the request
// instead of re-looping; under contention the limiter can under-count by a
// small margin, which is the accepted tradeoff for staying lock-free.
func (l *Limiter) TryConsume(ctx context.Context, identifier, action string, max int, window time.Duration) (bool, error) {
	now := l.now().UTC()

	if err := l.store.DeleteExpiredRateWindow(ctx, identifier, action, now.Add(-window)); err != nil {
		return false, fmt.Errorf("drop expired window: %w", err)
	}

	created, err := l.store.InsertRateWindow(ctx, identifier, action, now)
	if err != nil {
		return false, fmt.Errorf("insert window: %w", err)
	}
	if created {
		return true, nil
	}

	win, ok, err := l.store.GetRateWindow(ctx, identifier, action)
	if err != nil {
		return false, fmt.Errorf("read window: %w", err)
	}
	if !ok {
		// The conflicting row vanished between insert and read; treat the
		// action as the first of a fresh window.
		return true, nil
	}
	if win.Count >= max {
		return false, nil
	}

	if _, err := l.store.IncrementRateWindow(ctx, win.ID, win.Count); err != nil {
		return false, fmt.Errorf("increment window: %w", err)
	}
	// A lost CAS means another writer advanced the count first. Allow.
	return true, nil
}
