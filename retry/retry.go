// Package retry provides an executor that drives repeated invocation of a
// fallible operation with exponential backoff and optional jitter.
//
// The executor never swallows a final failure: the last attempt's error is
// returned to the caller unchanged so diagnostic detail is preserved. It
// has no cancellation hook of its own beyond the passed context; a caller
// that needs a total wall-clock bound must impose it via the context,
// since MaxAttempts * MaxDelay is the executor's only implicit ceiling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/studyloop/platform/metrics"
)

// minDelay is the floor applied to jittered delays so a computed delay is
// never zero or negative.
const minDelay = time.Millisecond

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy holds backoff configuration. It is a value type and is not
// mutated by the executor; construct once and reuse freely.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the pre-jitter delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between rounds. Applied to the pre-jitter
	// delay so jitter does not compound across attempts.
	Multiplier float64

	// Jitter, when set, perturbs each delay uniformly within
	// [0.75*delay, 1.25*delay] to avoid synchronized retry storms.
	Jitter bool

	// Retryable is the closed set of errors worth retrying, matched with
	// errors.Is. When empty, every error is considered retryable.
	Retryable []error
}

// DefaultPolicy returns a Policy with reasonable defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Validate checks the policy's structural constraints.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive, got %v", ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.Multiplier <= 1:
		return fmt.Errorf("%w: multiplier must be greater than 1, got %v", ErrInvalidPolicy, p.Multiplier)
	}
	return nil
}

// retryable reports whether err is worth another attempt under this policy.
func (p Policy) retryable(err error) bool {
	if len(p.Retryable) == 0 {
		return true
	}
	for _, kind := range p.Retryable {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Do invokes op until it succeeds, fails permanently, or the policy's
// attempts are exhausted. The first attempt runs immediately. A
// non-retryable error is returned as-is without further attempts; after
// MaxAttempts failed attempts the most recent error is returned unchanged.
// A nil logger falls back to slog.Default().
func Do(ctx context.Context, logger *slog.Logger, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, logger, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value. On failure the zero
// value of T is returned alongside the error.
func DoValue[T any](ctx context.Context, logger *slog.Logger, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if logger == nil {
		logger = slog.Default()
	}
	if err := p.Validate(); err != nil {
		return zero, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	current := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues("success").Inc()
			return result, nil
		}
		lastErr = err
		metrics.RetryAttempts.WithLabelValues("failure").Inc()

		if !p.retryable(err) {
			logger.WarnContext(ctx, "permanent error, not retrying",
				"attempt", attempt,
				"error", err)
			return zero, err
		}

		if attempt == p.MaxAttempts {
			break
		}

		var delay time.Duration
		delay, current = nextDelay(current, p, rng)

		logger.InfoContext(ctx, "operation failed, retrying after delay",
			"attempt", attempt,
			"error", err,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.WarnContext(ctx, "retry abandoned during backoff delay",
				"attempt", attempt,
				"ctx_err", ctx.Err())
			return zero, errors.Join(ctx.Err(), lastErr)
		}
	}

	metrics.RetryExhaustions.Inc()
	logger.ErrorContext(ctx, "retry attempts exhausted",
		"max_attempts", p.MaxAttempts,
		"error", lastErr)
	return zero, lastErr
}

// nextDelay computes the delay to sleep before the next attempt and the
// pre-jitter delay carried into the following round. The multiplier is
// applied to the capped pre-jitter delay so jitter never compounds.
func nextDelay(current time.Duration, p Policy, rng *rand.Rand) (delay, next time.Duration) {
	if current > p.MaxDelay {
		current = p.MaxDelay
	}

	delay = current
	if p.Jitter {
		// Uniform in [0.75*delay, 1.25*delay].
		factor := 0.75 + rng.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
		if delay < minDelay {
			delay = minDelay
		}
	}

	next = time.Duration(float64(current) * p.Multiplier)
	return delay, next
}
