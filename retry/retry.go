/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides retrying of failed operations and polling of conditions with backoff policies.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPollTimeout is returned by Poll when the condition isn't met within the timeout.
var ErrPollTimeout = errors.New("condition was not met within timeout")

var errNotDone = errors.New("not done")

// IsRetryable defines a func that can tell if error is retryable as opposed to persistent.
type IsRetryable func(error) bool

// RetryableFunc is function that does some work and can be potentially retried.
type RetryableFunc func(ctx context.Context) error

// PollFunc checks a condition. Returned errors are reported but don't stop polling.
type PollFunc func(ctx context.Context) (done bool, err error)

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// DoWithRetry executes fn with retry according to policy p and with respect to context ctx.
// IsRetryable defines which errors lead to retry attempt (can be nil for any error).
// Notify can be used to receive notification on every retry with error and backoff delay
// (can be nil if no notifications required).
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(bctx.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// Poll calls fn every interval until it reports done or the timeout elapses.
// The first call happens immediately, even with zero timeout. ErrPollTimeout is returned on timeout,
// the context error is returned if ctx is done earlier.
// fn receives ctx itself: the timeout only stops scheduling new calls and never aborts a call in flight.
// Errors returned by fn are passed to notify (if not nil) together with the delay before the next call.
func Poll(ctx context.Context, interval, timeout time.Duration, notify backoff.Notify, fn PollFunc) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := DoWithRetry(pollCtx, NewConstantBackoffPolicy(interval, 0), nil,
		func(err error, delay time.Duration) {
			if notify != nil && !errors.Is(err, errNotDone) {
				notify(err, delay)
			}
		},
		func(context.Context) error {
			done, err := fn(ctx)
			if err != nil {
				return err
			}
			if !done {
				return errNotDone
			}
			return nil
		})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if pollCtx.Err() != nil {
		return ErrPollTimeout
	}
	return err
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ExponentialBackoffPolicy means repeat up to max times with exponentially growing delays (1.5 multiplier).
type ExponentialBackoffPolicy struct {
	initialInterval time.Duration
	maxAttempts     int
}

// NewExponentialBackoffPolicy returns an exponential backoff policy with given initial interval and max retry attempt count.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{initialInterval, maxRetryAttempts}
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	eb.MaxElapsedTime = 0
	var bf backoff.BackOff = eb
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}

// ConstantBackoffPolicy means repeat up to max times (0 is unlimited) with constant interval delays.
type ConstantBackoffPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// NewConstantBackoffPolicy returns a constant backoff policy with given interval and max retry attempt count.
func NewConstantBackoffPolicy(interval time.Duration, maxRetryAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{interval, maxRetryAttempts}
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	var bf backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(bf, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}
