// Package retry implements the bounded-attempt, backoff-with-jitter retry
// engine (C2) that drives a single vendor adapter.
package retry

import "time"

// Policy configures the retry engine's attempt budget and backoff shape.
type Policy struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	JitterFraction    float64
}

// DefaultPolicy returns the spec's documented defaults: 3 attempts (1 + 2
// retries), 2s per-attempt timeout, 200ms base backoff doubling up to 10s,
// with ±10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		PerAttemptTimeout: 2 * time.Second,
		BaseBackoff:       200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		JitterFraction:    0.1,
	}
}
