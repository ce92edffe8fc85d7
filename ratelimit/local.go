package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/studyloop/platform/metrics"
)

// LocalLimiter is a process-local sliding window limiter. Each key holds
// the timestamps of its events within the trailing window; entries older
// than the window are pruned on every check.
//
// The trim/check/record sequence runs under the lock so two concurrent
// requests for the same key cannot both observe "below quota" and jointly
// exceed it.
type LocalLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string][]time.Time
	checks  int

	// now is replaceable in tests.
	now func() time.Time
}

// sweepEvery bounds how much stale per-key state can accumulate between
// full-map sweeps. A key that stops being checked would otherwise keep
// its expired events forever.
const sweepEvery = 4096

// NewLocalLimiter creates a limiter allowing limit events per key within
// the trailing window.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check prunes expired events for the key, then admits and records the
// event if the remaining count is below the limit.
func (l *LocalLimiter) Check(ctx context.Context, identity, resource string) Decision {
	k := key(identity, resource)
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	events := l.entries[k]

	// Events are appended in order, so everything from the first
	// still-valid timestamp onward survives the trim.
	keep := 0
	for keep < len(events) && !events[keep].After(cutoff) {
		keep++
	}
	events = events[keep:]

	if len(events) >= l.limit {
		l.entries[k] = events
		retryAfter := events[0].Add(l.window).Sub(now)
		metrics.RateLimitDecisions.WithLabelValues("local", "denied").Inc()
		return Decision{Allowed: false, Message: deniedMessage(l.limit, l.window, retryAfter)}
	}

	l.entries[k] = append(events, now)
	metrics.RateLimitDecisions.WithLabelValues("local", "allowed").Inc()
	return Decision{Allowed: true}
}

// sweep drops keys whose newest event predates the cutoff. Caller holds
// the lock.
func (l *LocalLimiter) sweep(cutoff time.Time) {
	for k, events := range l.entries {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.entries, k)
		}
	}
}
