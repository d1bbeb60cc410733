package gateway

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/strandworks/strand/runtime/program"
)

const defaultRequestsPerMinute = 60

// Limiter is a per-provider token-bucket admission gate sized in requests per
// minute. Tokens refill continuously at rpm/60 per second and never exceed
// the burst capacity, so available permits stay clamped to [0, burst].
// Acquire serializes admission; two concurrent callers cannot both spend the
// same token.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter builds a limiter from a provider rate-limit declaration. A nil
// declaration falls back to 60 requests per minute; a zero burst defaults to
// one minute's capacity at the effective rate.
func NewLimiter(cfg *program.RateLimit) *Limiter {
	rpm := defaultRequestsPerMinute
	if cfg != nil && cfg.RequestsPerMinute > 0 {
		rpm = cfg.RequestsPerMinute
	}
	burst := rpm
	if cfg != nil && cfg.Burst > 0 {
		burst = cfg.Burst
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

// Acquire blocks until one permit is available. It returns early with the
// context error when ctx is cancelled or its deadline would expire before a
// permit frees up.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Tokens reports the permits currently available, clamped to [0, burst].
func (l *Limiter) Tokens() float64 {
	t := l.lim.Tokens()
	if t < 0 {
		return 0
	}
	if b := float64(l.lim.Burst()); t > b {
		return b
	}
	return t
}
