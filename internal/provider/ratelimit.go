package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// EndpointLimiter applies a token bucket per API endpoint so a burst of
// account fetches cannot starve search or profile calls.
type EndpointLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewEndpointLimiter creates a limiter family with the given per-endpoint
// rate and burst.
func NewEndpointLimiter(rps float64, burst int) *EndpointLimiter {
	return &EndpointLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *EndpointLimiter) get(endpoint string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[endpoint]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[endpoint]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[endpoint] = limiter
	return limiter
}

// Wait blocks until the endpoint's bucket allows a request or ctx is done.
func (l *EndpointLimiter) Wait(ctx context.Context, endpoint string) error {
	return l.get(endpoint).Wait(ctx)
}

// Allow reports whether a request may proceed without blocking.
func (l *EndpointLimiter) Allow(endpoint string) bool {
	return l.get(endpoint).Allow()
}
