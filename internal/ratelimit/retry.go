package ratelimit

import (
	"context"
	"errors"
	"time"

	"clarify/models"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// DefaultRetryPolicy waits 3s, 6s, 12s across at most three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 3 * time.Second, MaxRetries: 3}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, models.ErrRateLimited) || errors.Is(err, models.ErrTransient)
}

// Retry runs op, retrying rate-limit and transient failures with exponential
// backoff. Any other error ends the attempts immediately.
func Retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error), notify func(err error, wait time.Duration)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay * 8

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxRetries + 1)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
