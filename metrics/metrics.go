// Package metrics exposes Prometheus counters for the platform façades.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisions tracks rate limit outcomes per backend.
	// The outcome label is one of "allowed", "denied", "fail_open".
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyloop_ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"backend", "outcome"},
	)

	// RetryAttempts tracks individual operation attempts made by the
	// retry executor, labelled by final outcome of the attempt.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyloop_retry_attempts_total",
			Help: "Total number of retry executor attempts",
		},
		[]string{"outcome"},
	)

	// RetryExhaustions tracks operations that failed every attempt.
	RetryExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studyloop_retry_exhaustions_total",
			Help: "Total number of operations that exhausted all retry attempts",
		},
	)

	// TaskSubmissions tracks task dispatch submissions per mode.
	TaskSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyloop_task_submissions_total",
			Help: "Total number of task submissions",
		},
		[]string{"mode", "outcome"},
	)

	// StorageOperations tracks blob store operations per backend.
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyloop_storage_operations_total",
			Help: "Total number of blob store operations",
		},
		[]string{"backend", "operation", "outcome"},
	)

	// UnsafePathRejections tracks logical paths rejected before I/O.
	UnsafePathRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studyloop_storage_unsafe_path_rejections_total",
			Help: "Total number of logical paths rejected by the path safety check",
		},
	)
)
