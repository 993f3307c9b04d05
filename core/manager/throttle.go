package manager

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/remoteops/distant/core/errs"
)

// throttle rate-limits connect attempts per key (Manager.Connect uses the
// destination's scheme as the key), following
// cppla-moto's controller/server.go: a go-cache entry per key that expires
// on its own, counted rather than just presence-checked since we allow up
// to max attempts per window rather than one-shot.
type throttle struct {
	c        *cache.Cache
	mu       sync.Mutex
	window   time.Duration
	max      int
}

func newThrottle(window time.Duration, max int) *throttle {
	if window <= 0 {
		window = time.Minute
	}
	return &throttle{c: cache.New(window, window/2), window: window, max: max}
}

// Allow records one attempt from key and reports whether it is within the
// configured rate, per window. max <= 0 disables throttling.
func (t *throttle) Allow(key string) error {
	if t.max <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 1
	if v, found := t.c.Get(key); found {
		n = v.(int) + 1
	}
	t.c.Set(key, n, cache.DefaultExpiration)
	if n > t.max {
		return errs.Newf(errs.PermissionDenied, "connect attempts from %q throttled (%d in window)", key, n)
	}
	return nil
}
