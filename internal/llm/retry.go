package llm

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls how transient upstream failures are retried.
// The delay before retry n (1-based) is InitialDelay * Multiplier^(n-1),
// capped at MaxDelay. The first attempt is never delayed.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns 3 retries at 1s, 2s and 4s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	return b
}
