// Package ratelimit bounds the request rate against the search API.
//
// Two mechanisms are provided: a RateLimiter shared by every collection that
// caps requests per second globally, and a Pacer owned by a single
// collection run that inserts a fixed politeness pause between successful
// sequential fetches.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by concurrent collection runs.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second with
// the given burst. It returns nil when rps is not positive, meaning unlimited.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until the limiter allows a request or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Limit returns the configured requests per second.
func (rl *RateLimiter) Limit() float64 {
	return float64(rl.limiter.Limit())
}
