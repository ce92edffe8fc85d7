// Package dispatch accepts named units of background work and hands them
// to a target handler, either caller-driven in process or through an
// external durable queue.
//
// Submission is best-effort idempotent only if the caller chooses a
// deterministic task name; this layer does not deduplicate, and a handle
// carries no ordering or delivery guarantee beyond "accepted".
package dispatch

import (
	"context"
	"errors"
)

// Handle is the opaque identifier returned on submission. For queued
// dispatch it is the queue's own task identifier.
type Handle string

// ErrSubmitFailed is returned when the durable queue rejects or cannot
// accept a submission. Dispatch failures are not retried internally;
// callers wanting retries wrap Submit with the retry executor.
var ErrSubmitFailed = errors.New("task submission failed")

// Dispatcher submits a named unit of work with a JSON-serializable payload
// to a handler address.
type Dispatcher interface {
	Submit(ctx context.Context, name string, payload map[string]any, handler string) (Handle, error)
}
