package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy retries up to four times starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Retry runs op until it succeeds, returns a non-transient error, or the
// attempt budget is spent. op's errors should already be classified; the
// attempt count is recorded on the returned FetchError.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error), notify func(attempt int, err error, wait time.Duration)) (T, error) {
	attempts := 0
	wrapped := func() (T, error) {
		attempts++
		v, err := op()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	maxTries := policy.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempts, err, wait)
		}))
	}

	v, err := backoff.Retry(ctx, wrapped, opts...)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Attempts = attempts
		}
	}
	return v, err
}
