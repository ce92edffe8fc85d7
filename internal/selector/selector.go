// Package selector implements the once-guarded backend resolution shared
// by every platform façade. It is the only place where initialization
// failures are converted into silent degradation: a production backend
// that cannot be constructed is logged as a warning and replaced by the
// local development implementation.
package selector

import (
	"log/slog"
	"sync"
)

// Selector lazily resolves one backend implementation per process. The
// production factory, when set, is attempted once; on error the fallback
// factory is used instead. The first successful resolution is cached and
// reused by all later callers, including concurrent first callers.
type Selector[T any] struct {
	name       string
	logger     *slog.Logger
	production func() (T, error)
	fallback   func() (T, error)

	mu       sync.Mutex
	resolved bool
	instance T
}

// New creates a selector. A nil production factory means configuration
// chose the local implementation outright; the fallback factory is then
// used without logging.
func New[T any](name string, logger *slog.Logger, production, fallback func() (T, error)) *Selector[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector[T]{
		name:       name,
		logger:     logger,
		production: production,
		fallback:   fallback,
	}
}

// Resolve returns the cached instance, constructing it on first call.
// Only a successful construction is cached; a fallback that itself fails
// leaves the selector unresolved so a later call may retry.
func (s *Selector[T]) Resolve() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.instance, nil
	}

	if s.production != nil {
		instance, err := s.production()
		s.production = nil
		if err == nil {
			s.instance = instance
			s.resolved = true
			return instance, nil
		}
		s.logger.Warn("production backend unavailable, falling back to local implementation",
			"facade", s.name,
			"error", err)
	}

	instance, err := s.fallback()
	if err != nil {
		var zero T
		return zero, err
	}
	s.instance = instance
	s.resolved = true
	return instance, nil
}

// Override installs a specific instance, bypassing both factories.
// Intended for tests.
func (s *Selector[T]) Override(instance T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = instance
	s.resolved = true
}

// Reset clears the cached instance so the next Resolve re-runs the
// factories. Intended for tests.
func (s *Selector[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.instance = zero
	s.resolved = false
}
