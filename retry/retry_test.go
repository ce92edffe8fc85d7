package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	invocations := 0
	err := Do(context.Background(), testLogger(), fastPolicy(), func(ctx context.Context) error {
		invocations++
		if invocations <= 2 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, invocations, "operation should run once per failure plus the success")
}

func TestDo_ExhaustsAttemptsAndReturnsFinalError(t *testing.T) {
	t.Parallel()

	finalErr := fmt.Errorf("attempt failed: %w", errTransient)
	invocations := 0
	err := Do(context.Background(), testLogger(), fastPolicy(), func(ctx context.Context) error {
		invocations++
		return finalErr
	})

	assert.Equal(t, 5, invocations, "operation should run exactly MaxAttempts times")
	// The most recent error comes back unchanged, preserving diagnostic
	// detail for the caller.
	assert.Same(t, finalErr, err)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	policy := fastPolicy()
	policy.Retryable = []error{errTransient}
	permanent := errors.New("validation failed")

	invocations := 0
	err := Do(context.Background(), testLogger(), policy, func(ctx context.Context) error {
		invocations++
		return permanent
	})

	assert.Equal(t, 1, invocations)
	assert.Same(t, permanent, err)
}

func TestDo_RetryableKindMatchedThroughWrapping(t *testing.T) {
	t.Parallel()

	policy := fastPolicy()
	policy.Retryable = []error{errTransient}

	invocations := 0
	err := Do(context.Background(), testLogger(), policy, func(ctx context.Context) error {
		invocations++
		if invocations < 2 {
			return fmt.Errorf("wrapped: %w", errTransient)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, invocations)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	policy := fastPolicy()
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	invocations := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, testLogger(), policy, func(ctx context.Context) error {
			invocations++
			return errTransient
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient, "the last operation error should stay observable")
	assert.Equal(t, 1, invocations)
}

func TestDoValue_ReturnsResult(t *testing.T) {
	t.Parallel()

	invocations := 0
	got, err := DoValue(context.Background(), testLogger(), fastPolicy(), func(ctx context.Context) (string, error) {
		invocations++
		if invocations == 1 {
			return "", errTransient
		}
		return "result", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "result", got)
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	valid := DefaultPolicy()
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"zero initial delay", func(p *Policy) { p.InitialDelay = 0 }},
		{"max delay below initial", func(p *Policy) { p.MaxDelay = p.InitialDelay - 1 }},
		{"multiplier of one", func(p *Policy) { p.Multiplier = 1.0 }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := DefaultPolicy()
			tc.mutate(&p)
			err := p.Validate()
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestNextDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.Jitter = true
	rng := rand.New(rand.NewSource(1))

	current := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		delay, next := nextDelay(current, policy, rng)

		assert.Greater(t, delay, time.Duration(0))
		assert.GreaterOrEqual(t, delay, time.Duration(float64(current)*0.75))
		assert.LessOrEqual(t, delay, time.Duration(float64(current)*1.25))
		assert.Equal(t, 200*time.Millisecond, next, "multiplier applies to the pre-jitter delay")
	}
}

func TestNextDelay_CapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.MaxDelay = time.Second
	policy.Jitter = false
	rng := rand.New(rand.NewSource(1))

	delay, next := nextDelay(10*time.Second, policy, rng)

	assert.Equal(t, time.Second, delay)
	assert.Equal(t, 2*time.Second, next, "growth continues from the capped delay")
}

func TestNextDelay_JitterRespectsCap(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.MaxDelay = time.Second
	policy.Jitter = true
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		delay, _ := nextDelay(time.Hour, policy, rng)
		assert.LessOrEqual(t, delay, time.Duration(float64(policy.MaxDelay)*1.25))
		assert.Greater(t, delay, time.Duration(0))
	}
}
