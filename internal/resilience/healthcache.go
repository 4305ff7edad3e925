package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultHealthTTL is the bounded TTL spec.md §4.C prescribes for the
// health probe cache.
const DefaultHealthTTL = 30 * time.Second

// Probe performs a cheap capability call against a backend (e.g. "describe
// index stats"). A nil error means healthy.
type Probe func(ctx context.Context) error

// HealthCache caches the last-known-good state of a backend. Positive
// results are cached for TTL; negative results are never cached, so the
// very next check re-probes.
type HealthCache struct {
	ttl time.Duration

	mu     sync.RWMutex
	states map[string]healthEntry

	// flight collapses concurrent probes against the same backend into one
	// underlying call.
	flight singleflight.Group
}

type healthEntry struct {
	lastCheck   time.Time
	lastHealthy bool
}

// NewHealthCache constructs a cache with the given TTL (DefaultHealthTTL if
// ttl <= 0).
func NewHealthCache(ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthCache{ttl: ttl, states: make(map[string]healthEntry)}
}

// Check reports health for the named backend, consulting the cache first.
func (c *HealthCache) Check(ctx context.Context, backend string, probe Probe) (bool, error) {
	c.mu.RLock()
	e, ok := c.states[backend]
	c.mu.RUnlock()
	if ok && e.lastHealthy && time.Since(e.lastCheck) < c.ttl {
		return true, nil
	}

	v, err, _ := c.flight.Do(backend, func() (any, error) {
		perr := probe(ctx)
		healthy := perr == nil
		if healthy {
			c.mu.Lock()
			c.states[backend] = healthEntry{lastCheck: time.Now(), lastHealthy: true}
			c.mu.Unlock()
		} else {
			// Negative results are not cached: evict any stale positive so
			// the next call re-probes rather than serving a race winner.
			c.mu.Lock()
			delete(c.states, backend)
			c.mu.Unlock()
		}
		return healthy, perr
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Invalidate forces the next Check for backend to re-probe regardless of
// TTL.
func (c *HealthCache) Invalidate(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, backend)
}
