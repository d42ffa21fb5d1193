package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the verify-lookup limiter.
const (
	VerifyLookupsPerIP  = 1000
	VerifyLookupWindow  = time.Minute
	DefaultMemoryBudget = 100_000
)

// MemoryLimiter is a fixed-window per-identifier limiter held entirely in
// process memory. It is non-durable and non-authoritative: restarts reset
// all counters. Total entries are capped; when the budget is exceeded,
// expired entries are evicted first, then the oldest by insertion.
type MemoryLimiter struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	rate       int
	window     time.Duration
	maxEntries int
	seq        uint64
	done       chan struct{}
	now        func() time.Time
}

type memoryEntry struct {
	count   int
	resetAt time.Time
	seq     uint64 // insertion order, for oldest-first eviction
}

// NewMemoryLimiter creates a limiter allowing rate actions per window,
// holding at most maxEntries identifiers, and starts a background sweep that
// drops expired entries every minute. Callers must Close it.
func NewMemoryLimiter(rate int, window time.Duration, maxEntries int) *MemoryLimiter {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryBudget
	}
	m := &MemoryLimiter{
		entries:    make(map[string]*memoryEntry),
		rate:       rate,
		window:     window,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go m.sweepLoop()
	return m
}

// Allow counts one action for identifier and reports whether it is within
// the rate for the current window.
func (m *MemoryLimiter) Allow(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[identifier]
	if ok && now.Before(e.resetAt) {
		e.count++
		return e.count <= m.rate
	}

	if !ok && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}
	m.seq++
	m.entries[identifier] = &memoryEntry{count: 1, resetAt: now.Add(m.window), seq: m.seq}
	return true
}

// Len reports the current number of tracked identifiers.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background sweep.
func (m *MemoryLimiter) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// evictLocked frees room for one new entry: expired entries first, then the
// oldest entry by insertion order.
func (m *MemoryLimiter) evictLocked(now time.Time) {
	for id, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, id)
		}
	}
	for len(m.entries) >= m.maxEntries {
		oldestID := ""
		var oldestSeq uint64
		for id, e := range m.entries {
			if oldestID == "" || e.seq < oldestSeq {
				oldestID, oldestSeq = id, e.seq
			}
		}
		delete(m.entries, oldestID)
	}
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryLimiter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, id)
		}
	}
}
