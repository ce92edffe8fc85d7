package ratelimit

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyloop/platform/config"
	"github.com/studyloop/platform/metrics"
)

// checkScript increments the window counter and stamps its expiry in a
// single atomic unit, so the read-count and record-event steps are never
// separately observable to a concurrent caller. The expiry is set only
// when the key is created, which puts the reset at one window after the
// first event. Returns the count after increment and the remaining TTL
// in milliseconds.
var checkScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisLimiter enforces a shared quota against a Redis counter store so
// all portal instances see one window per key. When the store is
// unreachable it fails open: the failure is logged and the request is
// admitted.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRedisLimiter connects to the counter store described by cfg and
// verifies the connection before returning. A connection failure here is
// an initialization error the backend selector converts into a fallback
// to the local limiter.
func NewRedisLimiter(cfg config.RedisConfig, limit int, window time.Duration, logger *slog.Logger) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr is required for the shared rate limit backend", config.ErrInvalid)
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to counter store: %w", err)
	}

	return NewRedisLimiterWithClient(client, limit, window, logger), nil
}

// NewRedisLimiterWithClient wraps an existing client. Used by tests and
// callers that manage the connection themselves.
func NewRedisLimiterWithClient(client redis.UniversalClient, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Check runs the atomic check-and-increment against the counter store.
// Store errors admit the request (fail open).
func (l *RedisLimiter) Check(ctx context.Context, identity, resource string) Decision {
	k := counterKey(identity, resource)

	res, err := checkScript.Run(ctx, l.client, []string{k}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		l.logger.ErrorContext(ctx, "counter store unreachable, failing open",
			"error", err)
		metrics.RateLimitDecisions.WithLabelValues("shared", "fail_open").Inc()
		return Decision{Allowed: true}
	}

	count, ttlMillis := res[0], res[1]
	if count > int64(l.limit) {
		retryAfter := time.Duration(ttlMillis) * time.Millisecond
		metrics.RateLimitDecisions.WithLabelValues("shared", "denied").Inc()
		return Decision{Allowed: false, Message: deniedMessage(l.limit, l.window, retryAfter)}
	}

	metrics.RateLimitDecisions.WithLabelValues("shared", "allowed").Inc()
	return Decision{Allowed: true}
}

// Close releases the underlying store connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func counterKey(identity, resource string) string {
	return "ratelimit:" + key(identity, resource)
}
