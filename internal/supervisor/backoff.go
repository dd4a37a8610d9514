package supervisor

import (
	"time"

	"go.olrik.dev/warden/internal/core"
)

// calculateBackoff returns the delay before restart attempt n (1-based):
// initial * factor^(n-1), capped at max
func calculateBackoff(policy core.RestartConfig, n int) time.Duration {
	delay := policy.Delay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := policy.MaxDelay
	if maxDelay < delay {
		maxDelay = delay
	}
	factor := policy.Factor
	if factor < 1 {
		factor = 1
	}

	backoff := float64(delay)
	for i := 1; i < n && backoff < float64(maxDelay); i++ {
		backoff *= factor
	}
	if backoff > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(backoff)
}

// crashBreaker counts consecutive failures and trips once too many pile up.
// The streak ends when a run outlives the failure window, or when no failure
// has happened for a whole window since the previous one. The streak length
// also drives the backoff exponent.
type crashBreaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// record registers a failure at now after the children ran for uptime.
// It returns the failure's position in the current streak and whether the
// breaker is now open.
func (b *crashBreaker) record(policy core.RestartConfig, now time.Time, uptime time.Duration) (int, bool) {
	window := policy.FailureWindow
	if window > 0 && b.failures > 0 && (uptime >= window || now.Sub(b.lastFailure) > window) {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if policy.MaxFailures > 0 && b.failures >= policy.MaxFailures {
		b.tripped = true
	}
	return b.failures, b.tripped
}

// reset closes the breaker after manual intervention
func (b *crashBreaker) reset() {
	b.failures = 0
	b.lastFailure = time.Time{}
	b.tripped = false
}
