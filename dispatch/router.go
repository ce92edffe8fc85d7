package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// HandlerFunc processes a delivered task payload.
type HandlerFunc func(ctx context.Context, payload map[string]any) error

// Router receives queue callbacks on the worker side and dispatches them
// to registered handlers. When a signing secret is configured it rejects
// deliveries without a valid token before any handler runs.
type Router struct {
	mux    chi.Router
	secret string
	logger *slog.Logger
}

// NewRouter creates a callback router. An empty secret disables signature
// verification, which is only appropriate for local development.
func NewRouter(secret string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    chi.NewRouter(),
		secret: secret,
		logger: logger,
	}
	if secret != "" {
		r.mux.Use(r.verifySignature)
	}
	return r
}

// Handle registers fn for the given handler address pattern.
func (r *Router) Handle(pattern string, fn HandlerFunc) {
	r.mux.Post(pattern, func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			r.logger.WarnContext(req.Context(), "rejected callback with malformed payload",
				"pattern", pattern,
				"error", err)
			http.Error(w, "malformed task payload", http.StatusBadRequest)
			return
		}

		if err := fn(req.Context(), payload); err != nil {
			r.logger.ErrorContext(req.Context(), "task handler failed",
				"pattern", pattern,
				"error", err)
			// A non-2xx status tells the queue to redeliver per its own
			// policy.
			http.Error(w, "task handler failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// verifySignature checks the HS256 token attached at submission time.
func (r *Router) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "missing task signature", http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(r.secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			r.logger.WarnContext(req.Context(), "rejected callback with invalid signature",
				"error", err)
			http.Error(w, "invalid task signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, req)
	})
}
