// Package probe issues generated variants against their endpoints with
// bounded concurrency, per-host rate limits, timeouts, and retries,
// streaming one result per attempt.
package probe

import "time"

// RetryPolicy decides whether a failed attempt goes again and how long
// to wait first. Pure: same inputs, same answers.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy matches the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-based) may be followed by
// another. Only transport-level failures qualify; HTTP error statuses
// are signal, not failure.
func (p RetryPolicy) ShouldRetry(attempt int, outcome Outcome) bool {
	if outcome != OutcomeTransportError && outcome != OutcomeTimeout {
		return false
	}
	return attempt <= p.MaxRetries
}

// Backoff returns the delay before the retry following attempt
// (1-based): exponential doubling from the initial backoff, capped.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
