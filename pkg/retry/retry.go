package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "igsync/pkg/errors"
	"igsync/pkg/logger"
)

// ErrPollTimeout is returned by Poll when the deadline passes first
var ErrPollTimeout = errors.New("poll timed out")

// Operation is a unit of work that might need retrying
type Operation func(ctx context.Context) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, first one included (0 means unlimited)
	MaxAttempts int
	// Backoff computes delays; when nil the per-kind profiles of ErrorTypeBackoff are used
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry sleep
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries transient and rate-limited failures only.
// Cancellation of the caller's context is never retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errs.KindOf(err) {
	case errs.KindTransient, errs.KindRateLimited:
		return true
	default:
		return false
	}
}

// RateLimitOnly retries RATE_LIMITED failures and nothing else
func RateLimitOnly(err error) bool {
	return errs.IsKind(err, errs.KindRateLimited)
}

// Do executes op until it succeeds, fails permanently, or attempts run out
func Do(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	perKind := NewErrorTypeBackoff()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Debug("Operation succeeded after retry")
			}
			return nil
		}

		if !retryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		} else {
			delay = perKind.NextDelayFor(err, attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay,
			"kind":    string(errs.KindOf(err)),
		}).WithError(err).Warn("Retrying operation")

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, cfg *Config, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// Poll calls check every interval until it reports done, returns an error,
// or timeout elapses. The first check runs immediately.
func Poll(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrPollTimeout
		}
		if err := Wait(ctx, min(interval, remaining)); err != nil {
			return err
		}
		if time.Until(deadline) <= 0 {
			// one last look so a job finishing right at the deadline is not lost
			done, err := check(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			return ErrPollTimeout
		}
	}
}
