package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "igsync/pkg/errors"
)

// BackoffStrategy computes the delay before a given retry attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor spreads delays by +/- this fraction (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential growth, cap and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := math.Min(
		float64(eb.BaseDelay)*math.Pow(eb.Multiplier, float64(attempt-1)),
		float64(eb.MaxDelay),
	)

	if eb.JitterFactor > 0 {
		spread := delay * eb.JitterFactor
		delay += rand.Float64()*2*spread - spread
	}

	return time.Duration(math.Max(delay, 0))
}

// ConstantBackoff waits the same delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait sleeps for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff holds one backoff profile per failure kind
type ErrorTypeBackoff struct {
	Transient   BackoffStrategy
	RateLimited BackoffStrategy
	Default     BackoffStrategy
}

// NewErrorTypeBackoff creates the standard per-kind profiles
func NewErrorTypeBackoff() *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		Transient: &ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimited: &ExponentialBackoff{
			BaseDelay:    30 * time.Second,
			MaxDelay:     5 * time.Minute,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		Default: DefaultExponentialBackoff(),
	}
}

// For returns the profile matching kind
func (etb *ErrorTypeBackoff) For(kind errs.Kind) BackoffStrategy {
	switch kind {
	case errs.KindTransient:
		return etb.Transient
	case errs.KindRateLimited:
		return etb.RateLimited
	default:
		return etb.Default
	}
}

// NextDelayFor picks the profile from the kind of the last failure
func (etb *ErrorTypeBackoff) NextDelayFor(err error, attempt int) time.Duration {
	return etb.For(errs.KindOf(err)).NextDelay(attempt)
}
