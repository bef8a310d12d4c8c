/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package distlock provides a mutual-exclusion lock shared by all processes that use the same key-value store.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/retry"
)

// ErrNotAcquired is returned when the lock can't be acquired within the wait timeout.
var ErrNotAcquired = errors.New("lock was not acquired within wait timeout")

// Default lock parameters.
const (
	DefaultExpire       = time.Hour
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// attemptTimeout bounds a single store call while acquiring or cleaning up.
const attemptTimeout = 3 * time.Second

// Locker acquires and inspects named locks.
type Locker struct {
	store        kvstore.Store
	logger       log.FieldLogger
	pollInterval time.Duration
}

// LockerOpts represents options for the Locker.
type LockerOpts struct {
	// PollInterval is a delay between acquisition attempts. DefaultPollInterval is used if zero.
	PollInterval time.Duration
}

// NewLocker creates a new Locker.
func NewLocker(store kvstore.Store, logger log.FieldLogger) *Locker {
	return NewLockerWithOpts(store, logger, LockerOpts{})
}

// NewLockerWithOpts creates a new Locker with the provided options.
func NewLockerWithOpts(store kvstore.Store, logger log.FieldLogger, opts LockerOpts) *Locker {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Locker{store: store, logger: logger, pollInterval: opts.PollInterval}
}

// Lock is an acquired lock. It's released by Release or by expiration.
type Lock struct {
	locker *Locker
	name   string
	token  string
}

// Name returns the lock name.
func (l *Lock) Name() string {
	return l.name
}

// Token returns the random token identifying the owner of the lock.
func (l *Lock) Token() string {
	return l.token
}

// Acquire tries to take the lock every poll interval until it succeeds or waitTimeout elapses.
// Zero waitTimeout means a single attempt. ErrNotAcquired is returned on timeout.
// Store errors during polling are logged and retried.
// Every attempt runs with its own timeout and isn't canceled together with ctx,
// so a write that reached the store is never reported as a failure without cleanup.
func (lk *Locker) Acquire(ctx context.Context, name string, expire, waitTimeout time.Duration) (*Lock, error) {
	token := xid.New().String()
	logger := lk.logger.With(log.String("lock", name))

	var uncertain bool
	err := retry.Poll(ctx, lk.pollInterval, waitTimeout,
		func(err error, _ time.Duration) {
			logger.Warn("error while acquiring lock, will retry", log.Error(err))
		},
		func(ctx context.Context) (bool, error) {
			attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptTimeout)
			defer cancel()
			ok, setErr := lk.store.SetIfAbsent(attemptCtx, name, []byte(token), expire)
			if setErr != nil {
				uncertain = true
			}
			return ok, setErr
		})
	if err != nil {
		if uncertain {
			lk.cleanupAttempts(ctx, name, token, logger)
		}
		if errors.Is(err, retry.ErrPollTimeout) {
			return nil, ErrNotAcquired
		}
		return nil, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	logger.Debug("lock acquired", log.String("token", token), log.Duration("expire", expire))
	return &Lock{locker: lk, name: name, token: token}, nil
}

// cleanupAttempts deletes the lock if one of the failed attempts has stored it after all.
func (lk *Locker) cleanupAttempts(ctx context.Context, name, token string, logger log.FieldLogger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptTimeout)
	defer cancel()
	deleted, err := lk.store.CompareAndDelete(cleanupCtx, name, []byte(token))
	if err != nil {
		logger.Error("error while cleaning up failed lock acquisition, lock may be held until expiration",
			log.String("token", token), log.Error(err))
		return
	}
	if deleted {
		logger.Warn("lock stored by a failed acquisition attempt was deleted", log.String("token", token))
	}
}

// Release deletes the lock if it's still owned by this holder and reports whether it was deleted.
// A lock that expired and was taken by another holder is left untouched.
// Store errors are logged and swallowed, the expiration bounds a lock that can't be released.
func (l *Lock) Release(ctx context.Context) bool {
	released, err := l.locker.store.CompareAndDelete(context.WithoutCancel(ctx), l.name, []byte(l.token))
	if err != nil {
		l.locker.logger.Error("error while releasing lock", log.String("lock", l.name), log.Error(err))
		return false
	}
	if !released {
		l.locker.logger.Warn("lock is not owned anymore, skipping release", log.String("lock", l.name))
	}
	return released
}

// ForceRelease deletes the lock regardless of its owner.
func (lk *Locker) ForceRelease(ctx context.Context, name string) bool {
	deleted, err := lk.store.Delete(ctx, name)
	if err != nil {
		lk.logger.Error("error while force releasing lock", log.String("lock", name), log.Error(err))
		return false
	}
	if deleted {
		lk.logger.Warn("lock was force released", log.String("lock", name))
	}
	return deleted
}

// IsLocked reports whether the lock is held. Store errors are logged and reported as not locked.
func (lk *Locker) IsLocked(ctx context.Context, name string) bool {
	exists, err := lk.store.Exists(ctx, name)
	if err != nil {
		lk.logger.Error("error while checking lock", log.String("lock", name), log.Error(err))
		return false
	}
	return exists
}

// WithLock acquires the lock, runs fn and releases the lock, even if fn panics.
func (lk *Locker) WithLock(
	ctx context.Context, name string, expire, waitTimeout time.Duration, fn func(ctx context.Context) error,
) error {
	lock, err := lk.Acquire(ctx, name, expire, waitTimeout)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)
	return fn(ctx)
}
