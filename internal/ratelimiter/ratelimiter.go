// Package ratelimiter bounds the rate of protocol requests a client may
// issue, using a token bucket. Transfer chunks are not counted; the limiter
// guards the command dispatch path only.
package ratelimiter

import (
	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter that sustains requestsPerSecond with the given burst
// capacity. A zero rate means unlimited.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes one token if available. A false return means the request
// should be rejected, not queued.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
