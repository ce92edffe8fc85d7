package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewLocalLimiter(10, 60*time.Second)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()

	// Ten calls within the window are all allowed.
	for i := 0; i < 10; i++ {
		d := limiter.Check(ctx, "user-1", "quiz")
		require.True(t, d.Allowed, "call %d should be allowed", i+1)
		now = now.Add(time.Second)
	}

	// The eleventh within the same window is denied.
	d := limiter.Check(ctx, "user-1", "quiz")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Message, "rate limit")
	assert.Contains(t, d.Message, "10")

	// Once 60s have elapsed from the first call, its slot frees up.
	now = now.Add(51 * time.Second)
	d = limiter.Check(ctx, "user-1", "quiz")
	assert.True(t, d.Allowed)
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1, time.Minute)
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, "user-1", "quiz").Allowed)
	assert.False(t, limiter.Check(ctx, "user-1", "quiz").Allowed)

	// A different identity and a different resource each get their own
	// quota.
	assert.True(t, limiter.Check(ctx, "user-2", "quiz").Allowed)
	assert.True(t, limiter.Check(ctx, "user-1", "upload").Allowed)
}

func TestLocalLimiter_ConcurrentCallersCannotJointlyExceedQuota(t *testing.T) {
	t.Parallel()

	const limit = 50
	const callers = 200

	limiter := NewLocalLimiter(limit, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(ctx, "user-1", "quiz").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed, "trim/check/record must be atomic per key")
}

func TestLocalLimiter_DenialMessageHidesInternals(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1, time.Minute)
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, "user-1", "quiz").Allowed)
	d := limiter.Check(ctx, "user-1", "quiz")

	require.False(t, d.Allowed)
	assert.NotContains(t, d.Message, "user-1")
	assert.NotContains(t, d.Message, "quiz")
	assert.Contains(t, d.Message, "retry in")
}

func TestLocalLimiter_SweepDropsExpiredKeys(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewLocalLimiter(10, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	// A burst of one-off identities that never come back.
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Check(ctx, fmt.Sprintf("user-%d", i), "quiz").Allowed)
	}

	now = now.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		limiter.Check(ctx, "active-user", "quiz")
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.entries, key("user-0", "quiz"))
	assert.Contains(t, limiter.entries, key("active-user", "quiz"))
	assert.Len(t, limiter.entries, 1, "expired keys must be swept, not retained")
}

func TestDeniedMessage_FloorsRetryHint(t *testing.T) {
	t.Parallel()

	msg := deniedMessage(5, time.Minute, 10*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("rate limit of 5 requests per %s exceeded; retry in about 1s", time.Minute), msg)
}
