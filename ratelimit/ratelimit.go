// Package ratelimit answers whether an (identity, resource) pair is within
// its quota for the current window.
//
// Two implementations exist. LocalLimiter keeps sliding-window state in
// process memory and is correct only within a single process; under a
// multi-instance deployment each instance enforces its own quota. This is
// a documented limitation of the development path, not a defect. The
// Redis-backed limiter shares one counter store across instances and fails
// open when that store is unreachable: over-admitting briefly is preferable
// to denying all traffic while the limiter's dependency is down. Note the
// deliberate contrast with package blobstore, which fails closed.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a rate limit check. Exceeding the quota is a
// first-class result, not an error; the caller decides the user-facing
// response.
type Decision struct {
	Allowed bool

	// Message is a human-readable explanation set on denial. It names the
	// limit and a retry hint but never internal endpoints or resolved keys.
	Message string
}

// Limiter checks request admission for a composite (identity, resource) key.
type Limiter interface {
	// Check reports whether the pair is within quota and, if allowed,
	// records the event. It must be callable on the synchronous fast path
	// of a request handler.
	Check(ctx context.Context, identity, resource string) Decision
}

// key partitions quotas by caller identity and target resource.
func key(identity, resource string) string {
	return identity + ":" + resource
}

// deniedMessage builds the user-facing denial text.
func deniedMessage(limit int, window, retryAfter time.Duration) string {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return fmt.Sprintf("rate limit of %d requests per %s exceeded; retry in about %s",
		limit, window, retryAfter.Round(time.Second))
}
