package platform

import (
	"github.com/studyloop/platform/blobstore"
	"github.com/studyloop/platform/dispatch"
	"github.com/studyloop/platform/ratelimit"
)

// Test hooks. Cached backend singletons would otherwise leak between test
// cases; tests override or reset them explicitly instead of mutating the
// environment and hoping for re-resolution.

// ResetForTest clears every cached backend so the next façade call
// re-resolves from current settings.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	settings = nil
	log = nil
	limiterSel = nil
	dispatcherSel = nil
	storeSel = nil
}

// OverrideLimiterForTest installs a specific rate limiter.
func OverrideLimiterForTest(l ratelimit.Limiter) {
	_, limiters, _, _ := state()
	limiters.Override(l)
}

// OverrideDispatcherForTest installs a specific task dispatcher.
func OverrideDispatcherForTest(d dispatch.Dispatcher) {
	_, _, dispatchers, _ := state()
	dispatchers.Override(d)
}

// OverrideStoreForTest installs a specific blob store.
func OverrideStoreForTest(s blobstore.Store) {
	_, _, _, stores := state()
	stores.Override(s)
}
