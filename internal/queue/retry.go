package queue

import (
	"math"
	"math/rand"
	"time"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/config"
)

// RetryPolicy decides whether a failed attempt runs again and how long to
// wait first. The random source is injectable so backoff is testable.
type RetryPolicy struct {
	cfg *config.QueueConfig
	rnd func() float64
}

func NewRetryPolicy(cfg *config.QueueConfig) *RetryPolicy {
	return &RetryPolicy{cfg: cfg, rnd: rand.Float64}
}

// NewRetryPolicyWithRand builds a policy with a fixed random source.
func NewRetryPolicyWithRand(cfg *config.QueueConfig, rnd func() float64) *RetryPolicy {
	return &RetryPolicy{cfg: cfg, rnd: rnd}
}

// ShouldRetry reports whether a failure of this category on this attempt
// deserves another run. Validation, authorization and configuration
// failures never retry; everything else retries while attempts remain.
func (p *RetryPolicy) ShouldRetry(category common.ErrorCategory, attempt, maxAttempts int) bool {
	switch category {
	case common.CategoryValidation, common.CategoryAuthorization, common.CategoryConfiguration:
		return false
	}
	return attempt < maxAttempts
}

// Backoff returns the delay before the next attempt: exponential in the
// attempt number with bounded jitter, capped at the configured maximum. The
// jitter spreads retries so a burst of failures does not come back as a
// synchronized storm.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.cfg.RetryBaseDelay)
	delay := base * math.Pow(p.cfg.RetryMultiplier, float64(attempt-1))

	// rnd in [0,1) mapped to [-jitter, +jitter).
	factor := 1 + p.cfg.RetryJitter*(2*p.rnd()-1)
	delay *= factor

	if max := float64(p.cfg.RetryMaxDelay); delay > max {
		delay = max
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
