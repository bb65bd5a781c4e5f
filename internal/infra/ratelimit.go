package infra

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests to one upstream source.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond requests per second with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// NewRateLimiterEvery allows one request per interval.
func NewRateLimiterEvery(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a request slot is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
