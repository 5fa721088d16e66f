package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// accountLimiter keeps one token bucket per sending account.
type accountLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newAccountLimiter(requestsPerSec float64, burst int) *accountLimiter {
	limit := rate.Limit(requestsPerSec)
	if requestsPerSec <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &accountLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *accountLimiter) get(account string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[account]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[account] = limiter
	}
	return limiter
}

func (l *accountLimiter) Wait(ctx context.Context, account string) error {
	return l.get(account).Wait(ctx)
}
