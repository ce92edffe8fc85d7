// Package platform exposes the call contracts the rest of the StudyLoop
// portal consumes: rate limiting, retry with backoff, background task
// dispatch, and file storage. Application code never imports the concrete
// implementations; each façade lazily resolves a singleton backend chosen
// by configuration and delegates to it.
package platform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/studyloop/platform/blobstore"
	"github.com/studyloop/platform/config"
	"github.com/studyloop/platform/dispatch"
	"github.com/studyloop/platform/internal/selector"
	"github.com/studyloop/platform/logger"
	"github.com/studyloop/platform/ratelimit"
	"github.com/studyloop/platform/retry"
)

var (
	mu       sync.Mutex
	settings *config.Settings
	log      *slog.Logger

	limiterSel    *selector.Selector[ratelimit.Limiter]
	dispatcherSel *selector.Selector[dispatch.Dispatcher]
	storeSel      *selector.Selector[blobstore.Store]
)

// Init installs the settings and logger the façades use. Call it once at
// process startup, before any façade call. A nil cfg selects the
// local-only defaults. Without Init, the first façade call loads
// configuration from the environment itself.
func Init(cfg *config.Settings, l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if cfg == nil {
		cfg = defaultSettings()
	}
	settings = cfg
	log = l
	buildSelectors()
}

// state returns the current logger and selectors, initializing the
// package on first use. Without an explicit Init, configuration is loaded
// from the environment; load failures degrade to local-only defaults so a
// misconfigured process still serves requests with development backends.
func state() (*slog.Logger, *selector.Selector[ratelimit.Limiter], *selector.Selector[dispatch.Dispatcher], *selector.Selector[blobstore.Store]) {
	mu.Lock()
	defer mu.Unlock()
	if settings == nil {
		cfg, err := config.Load()
		if err != nil {
			slog.Warn("failed to load platform configuration, using local defaults",
				"error", err)
			cfg = defaultSettings()
		}
		settings = cfg
		if log == nil {
			log = logger.Setup(cfg.Log)
		}
		buildSelectors()
	}
	return log, limiterSel, dispatcherSel, storeSel
}

func defaultSettings() *config.Settings {
	return &config.Settings{
		Log:       config.LogConfig{Level: "info", Format: "json"},
		RateLimit: config.RateLimitConfig{Backend: "local", MaxCount: 10, Window: time.Minute},
		Dispatch:  config.DispatchConfig{Mode: "inline"},
		Storage:   config.StorageConfig{Backend: "local", Root: "./data"},
	}
}

// buildSelectors wires one selector per façade from the current settings.
// Caller holds mu.
func buildSelectors() {
	cfg, l := settings, log
	if l == nil {
		l = slog.Default()
		log = l
	}

	var limiterProd func() (ratelimit.Limiter, error)
	if cfg.RateLimit.Backend == "shared" {
		limiterProd = func() (ratelimit.Limiter, error) {
			lim, err := ratelimit.NewRedisLimiter(cfg.RateLimit.Redis, cfg.RateLimit.MaxCount, cfg.RateLimit.Window, l)
			if err != nil {
				return nil, err
			}
			return lim, nil
		}
	}
	limiterSel = selector.New("ratelimit", l, limiterProd, func() (ratelimit.Limiter, error) {
		return ratelimit.NewLocalLimiter(cfg.RateLimit.MaxCount, cfg.RateLimit.Window), nil
	})

	var dispatcherProd func() (dispatch.Dispatcher, error)
	if cfg.Dispatch.Mode == "queued" {
		dispatcherProd = func() (dispatch.Dispatcher, error) {
			d, err := dispatch.NewQueued(cfg.Dispatch, l)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	dispatcherSel = selector.New("dispatch", l, dispatcherProd, func() (dispatch.Dispatcher, error) {
		return dispatch.NewInline(l), nil
	})

	var storeProd func() (blobstore.Store, error)
	if cfg.Storage.Backend == "remote" {
		storeProd = func() (blobstore.Store, error) {
			s, err := blobstore.NewObject(cfg.Storage, l)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	storeSel = selector.New("storage", l, storeProd, func() (blobstore.Store, error) {
		return blobstore.NewFilesystem(cfg.Storage.Root, l)
	})
}

// CheckRateLimit reports whether the (identity, resource) pair is within
// its quota for the current window and records the event if so.
func CheckRateLimit(ctx context.Context, identity, resource string) ratelimit.Decision {
	l, limiters, _, _ := state()
	lim, err := limiters.Resolve()
	if err != nil {
		// The local limiter constructor cannot fail, so this is
		// unreachable in practice; admit rather than block traffic.
		l.ErrorContext(ctx, "rate limiter unavailable", "error", err)
		return ratelimit.Decision{Allowed: true}
	}
	return lim.Check(ctx, identity, resource)
}

// RetryWithBackoff invokes op under the given backoff policy and returns
// the final error on exhaustion.
func RetryWithBackoff(ctx context.Context, policy retry.Policy, op func(ctx context.Context) error) error {
	l, _, _, _ := state()
	return retry.Do(ctx, l, policy, op)
}

// EnqueueTask submits a named unit of work with a JSON-serializable
// payload for delivery to the handler address.
func EnqueueTask(ctx context.Context, name string, payload map[string]any, handler string) (dispatch.Handle, error) {
	_, _, dispatchers, _ := state()
	d, err := dispatchers.Resolve()
	if err != nil {
		return "", err
	}
	return d.Submit(ctx, name, payload, handler)
}

// SaveFile stores data under the logical path.
func SaveFile(ctx context.Context, path string, data []byte) (blobstore.Ref, error) {
	_, _, _, stores := state()
	s, err := stores.Resolve()
	if err != nil {
		return "", err
	}
	return s.Save(ctx, path, data)
}

// GetFilePath returns a local readable path for a stored reference.
func GetFilePath(ctx context.Context, ref blobstore.Ref) (string, error) {
	_, _, _, stores := state()
	s, err := stores.Resolve()
	if err != nil {
		return "", err
	}
	return s.Path(ctx, ref)
}

// DeleteFile removes a stored reference, reporting whether it existed.
func DeleteFile(ctx context.Context, ref blobstore.Ref) (bool, error) {
	_, _, _, stores := state()
	s, err := stores.Resolve()
	if err != nil {
		return false, err
	}
	return s.Delete(ctx, ref)
}

// FileExists reports whether a stored reference is present.
func FileExists(ctx context.Context, ref blobstore.Ref) (bool, error) {
	_, _, _, stores := state()
	s, err := stores.Resolve()
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, ref)
}
