package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source IPs/keys.
	maxTrackedKeys = 4096

	// rateLimitWindow and rateLimitMaxHits give each key a steady budget
	// of rateLimitMaxHits requests per window, with the full budget
	// available as burst.
	rateLimitWindow  = 60 * time.Second
	rateLimitMaxHits = 30
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter hands each inbound sender key a token bucket and
// bounds the number of tracked keys so rotating source keys can't grow
// the map without limit. Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter.
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{entries: make(map[string]*limiterEntry)}
}

// Allow reports whether the key has budget left in its bucket,
// pruning stale entries and hard-evicting when the tracked-key cap is hit.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitMaxHits), rateLimitMaxHits)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}
