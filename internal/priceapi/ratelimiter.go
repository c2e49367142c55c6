package priceapi

import (
	"context"

	"golang.org/x/time/rate"
)

// sourceLimits mirrors each upstream API's documented rate ceiling,
// expressed as requests per minute.
var sourceLimits = map[string]float64{
	"binance":      1200,
	"twelvedata":   800.0 / (24 * 60),
	"alphavantage": 5,
	"yahoo":        2000,
}

// RateLimiter wraps one token-bucket limiter per upstream source.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds limiters for every known source, each seeded
// with a burst of 1 so requests are smoothed rather than bursty.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{limiters: make(map[string]*rate.Limiter, len(sourceLimits))}
	for source, perMinute := range sourceLimits {
		rl.limiters[source] = rate.NewLimiter(rate.Limit(perMinute/60), 1)
	}
	return rl
}

// Wait blocks until a request to source is permitted, or ctx is done.
// Unknown sources are not rate limited.
func (rl *RateLimiter) Wait(ctx context.Context, source string) error {
	limiter, ok := rl.limiters[source]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// Status reports the instantaneous token availability for a source,
// useful for an operator-facing health endpoint.
func (rl *RateLimiter) Status() map[string]float64 {
	out := make(map[string]float64, len(rl.limiters))
	for source, limiter := range rl.limiters {
		out[source] = limiter.Tokens()
	}
	return out
}
