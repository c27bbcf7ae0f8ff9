package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// RetryConfig controls how storage calls are retried.
type RetryConfig struct {
	// MaxAttempts counts the initial call. Default: 5
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each attempt. Default: 2.0
	BackoffMultiplier float64

	// JitterFraction randomizes each wait by up to this fraction. Default: 0.1
	JitterFraction float64
}

// DefaultRetryConfig returns the default storage retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func defaultDequeueRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// retryWithBackoff calls op until it succeeds, fails permanently, or
// config.MaxAttempts calls were made. op always runs at least once.
func retryWithBackoff(ctx context.Context, config RetryConfig, op func() error) error {
	wait := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !IsRetryableError(err) || attempt >= config.MaxAttempts {
			return err
		}

		timer := time.NewTimer(config.jitter(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = config.grow(wait)
	}
}

// jitter spreads d by up to JitterFraction in either direction.
func (c RetryConfig) jitter(d time.Duration) time.Duration {
	if c.JitterFraction <= 0 {
		return d
	}
	spread := time.Duration(float64(d) * c.JitterFraction * (rand.Float64()*2 - 1))
	if d+spread < 0 {
		return d
	}
	return d + spread
}

// grow returns the wait following d.
func (c RetryConfig) grow(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.BackoffMultiplier)
	if next > c.MaxBackoff {
		return c.MaxBackoff
	}
	return next
}

// IsRetryableError reports whether a storage error may succeed on retry.
// Cancellation and lost lock ownership are permanent; anything else is
// treated as transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrInvocationNotOwned) {
		return false
	}
	return true
}

// isTerminal reports whether a handler error must fail the invocation
// without retry. Dispatch errors are deterministic for the stored tokens, so
// retrying them can never succeed.
func isTerminal(err error) bool {
	var noRetry *core.NoRetryError
	return errors.As(err, &noRetry) ||
		core.IsDispatchError(err) ||
		errors.Is(err, core.ErrUnknownCommand)
}

// invocationBackoff is the delay before retry number attempt of a failed
// handler: one second doubled per attempt, capped at a minute.
func invocationBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 6 {
		return time.Minute
	}
	backoff := time.Second << attempt
	if backoff > time.Minute {
		backoff = time.Minute
	}
	return backoff
}
