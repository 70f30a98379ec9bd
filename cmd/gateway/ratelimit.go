package main

import (
	"sync"

	"golang.org/x/time/rate"
	"k8s.io/utils/lru"
)

const maxRateLimiters = 10_000

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (bounded LRU of per-tenant token buckets)
// ──────────────────────────────────────────────────────────────────────────────

type tenantLimiter struct {
	// mu makes lookup-or-create atomic; the cache locks only single calls.
	mu    sync.Mutex
	limit rate.Limit
	burst int
	cache *lru.Cache // tenant → *rate.Limiter
}

// newTenantLimiter allows perSecond calls per tenant. A non-positive burst
// defaults to twice the rate; a non-positive rate disables limiting.
func newTenantLimiter(perSecond, burst int) *tenantLimiter {
	return newTenantLimiterSize(perSecond, burst, maxRateLimiters)
}

func newTenantLimiterSize(perSecond, burst, size int) *tenantLimiter {
	if burst <= 0 {
		burst = perSecond * 2
	}
	return &tenantLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		cache: lru.New(size),
	}
}

func (t *tenantLimiter) Allow(tenant string) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.cache.Get(tenant); ok {
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(t.limit, t.burst)
	t.cache.Add(tenant, l)
	return l.Allow()
}
