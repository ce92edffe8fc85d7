package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/studyloop/platform/metrics"
)

// Inline is the single-process dispatcher. It does not invoke the handler
// address; it returns a handle immediately and expects the caller to
// perform the work directly. It exists so call sites stay backend-agnostic
// in deployments where there is no separate worker to call back into.
type Inline struct {
	logger *slog.Logger
}

// NewInline creates an inline dispatcher.
func NewInline(logger *slog.Logger) *Inline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{logger: logger}
}

// Submit accepts the task and returns a fresh handle without any network
// call.
func (d *Inline) Submit(ctx context.Context, name string, payload map[string]any, handler string) (Handle, error) {
	h := Handle(uuid.New().String())
	d.logger.DebugContext(ctx, "task accepted for inline execution",
		"task_name", name,
		"handler", handler,
		"handle", h)
	metrics.TaskSubmissions.WithLabelValues("inline", "accepted").Inc()
	return h, nil
}
