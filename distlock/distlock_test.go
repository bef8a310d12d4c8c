/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log/logtest"
)

type LockerTestSuite struct {
	suite.Suite
	newStore func(t *testing.T) (store kvstore.Store, advance func(d time.Duration))

	store       kvstore.Store
	advance     func(d time.Duration)
	logRecorder *logtest.Recorder
	locker      *Locker
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLocker_Memory(t *testing.T) {
	suite.Run(t, &LockerTestSuite{newStore: func(t *testing.T) (kvstore.Store, func(time.Duration)) {
		clock := &fakeClock{now: time.Now()}
		store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{Now: clock.Now})
		require.NoError(t, err)
		return store, clock.Advance
	}})
}

func TestLocker_Redis(t *testing.T) {
	suite.Run(t, &LockerTestSuite{newStore: func(t *testing.T) (kvstore.Store, func(time.Duration)) {
		mr := miniredis.RunT(t)
		return kvstore.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr.FastForward
	}})
}

func (s *LockerTestSuite) SetupTest() {
	s.store, s.advance = s.newStore(s.T())
	s.logRecorder = logtest.NewRecorder()
	s.locker = NewLockerWithOpts(s.store, s.logRecorder, LockerOpts{PollInterval: 10 * time.Millisecond})
}

func (s *LockerTestSuite) TestAcquireAndRelease() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "scraping_task:all", time.Minute, time.Second)
	s.Require().NoError(err)
	s.Require().NotEmpty(lock.Token())
	s.Require().Equal("scraping_task:all", lock.Name())
	s.Require().True(s.locker.IsLocked(ctx, "scraping_task:all"))

	s.Require().True(lock.Release(ctx))
	s.Require().False(s.locker.IsLocked(ctx, "scraping_task:all"))
}

func (s *LockerTestSuite) TestAcquireTimeout() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "job", time.Minute, time.Second)
	s.Require().NoError(err)
	defer lock.Release(ctx)

	startTime := time.Now()
	_, err = s.locker.Acquire(ctx, "job", time.Minute, 100*time.Millisecond)
	s.Require().ErrorIs(err, ErrNotAcquired)
	s.Require().GreaterOrEqual(time.Since(startTime), 100*time.Millisecond)
}

func (s *LockerTestSuite) TestAcquireWithZeroWaitTimeout() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "job", time.Minute, 0)
	s.Require().NoError(err)

	_, err = s.locker.Acquire(ctx, "job", time.Minute, 0)
	s.Require().ErrorIs(err, ErrNotAcquired)
	s.Require().True(lock.Release(ctx))
}

func (s *LockerTestSuite) TestLockExpiresWithoutRelease() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "scraping_task:all", time.Second, time.Second)
	s.Require().NoError(err)
	s.Require().True(s.locker.IsLocked(ctx, "scraping_task:all"))

	s.advance(1100 * time.Millisecond)
	s.Require().False(s.locker.IsLocked(ctx, "scraping_task:all"))

	lock2, err := s.locker.Acquire(ctx, "scraping_task:all", time.Second, 0)
	s.Require().NoError(err)
	s.Require().NotEqual(lock.Token(), lock2.Token())
	s.Require().False(lock.Release(ctx), "expired lock must not release the new holder")
	s.Require().True(lock2.Release(ctx))
}

func (s *LockerTestSuite) TestAcquireDeletesLockWrittenByFailedAttempt() {
	ctx := context.Background()
	locker := NewLockerWithOpts(&lostReplyStore{Store: s.store}, s.logRecorder, LockerOpts{PollInterval: 10 * time.Millisecond})

	_, err := locker.Acquire(ctx, "job", time.Hour, 30*time.Millisecond)
	s.Require().ErrorIs(err, ErrNotAcquired)
	s.Require().False(s.locker.IsLocked(ctx, "job"))
	_, found := s.logRecorder.FindEntry("lock stored by a failed acquisition attempt was deleted")
	s.Require().True(found)
}

func (s *LockerTestSuite) TestAcquireWaitsForRelease() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "job", time.Minute, time.Second)
	s.Require().NoError(err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		lock.Release(ctx)
	}()

	lock2, err := s.locker.Acquire(ctx, "job", time.Minute, 2*time.Second)
	s.Require().NoError(err)
	s.Require().NotEqual(lock.Token(), lock2.Token())
	s.Require().True(lock2.Release(ctx))
}

func (s *LockerTestSuite) TestReleaseDoesNotDeleteForeignLock() {
	ctx := context.Background()

	lock, err := s.locker.Acquire(ctx, "job", time.Minute, time.Second)
	s.Require().NoError(err)

	// Simulate expiration and takeover by another holder.
	s.Require().True(s.locker.ForceRelease(ctx, "job"))
	lock2, err := s.locker.Acquire(ctx, "job", time.Minute, time.Second)
	s.Require().NoError(err)

	s.Require().False(lock.Release(ctx))
	s.Require().True(s.locker.IsLocked(ctx, "job"))
	_, found := s.logRecorder.FindEntry("lock is not owned anymore, skipping release")
	s.Require().True(found)

	s.Require().True(lock2.Release(ctx))
}

func (s *LockerTestSuite) TestForceRelease() {
	ctx := context.Background()

	s.Require().False(s.locker.ForceRelease(ctx, "job"))

	_, err := s.locker.Acquire(ctx, "job", time.Minute, time.Second)
	s.Require().NoError(err)
	s.Require().True(s.locker.ForceRelease(ctx, "job"))
	s.Require().False(s.locker.IsLocked(ctx, "job"))
}

func (s *LockerTestSuite) TestWithLock() {
	ctx := context.Background()
	errJob := errors.New("job failed")

	err := s.locker.WithLock(ctx, "job", time.Minute, time.Second, func(ctx context.Context) error {
		s.Require().True(s.locker.IsLocked(ctx, "job"))
		return errJob
	})
	s.Require().ErrorIs(err, errJob)
	s.Require().False(s.locker.IsLocked(ctx, "job"), "lock must be released after the job")
}

func (s *LockerTestSuite) TestMutualExclusion() {
	ctx := context.Background()
	var inside, maxInside, completed atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.locker.WithLock(ctx, "job", time.Minute, 5*time.Second, func(context.Context) error {
				cur := inside.Inc()
				for {
					prevMax := maxInside.Load()
					if cur <= prevMax || maxInside.CompareAndSwap(prevMax, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Dec()
				return nil
			})
			if err == nil {
				completed.Inc()
			}
		}()
	}
	wg.Wait()

	s.Require().EqualValues(5, completed.Load())
	s.Require().EqualValues(1, maxInside.Load())
}

func TestAcquire_ContextCanceled(t *testing.T) {
	store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{})
	require.NoError(t, err)
	locker := NewLocker(store, nil)

	_, err = locker.Acquire(context.Background(), "job", time.Minute, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "job", time.Minute, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

// lostReplyStore applies SetIfAbsent but reports a timeout, as if the reply was lost.
type lostReplyStore struct {
	kvstore.Store
}

func (s *lostReplyStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, err := s.Store.SetIfAbsent(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return false, context.DeadlineExceeded
}

func TestAcquire_MemoryStoreKeepsLockUnderKeyPressure(t *testing.T) {
	store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{MaxKeys: 3})
	require.NoError(t, err)
	locker := NewLocker(store, nil)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "scraping_task:all", time.Hour, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.Increment(ctx, fmt.Sprintf("rate_limit:ip:10.0.0.1:/jobs/%d", i), time.Minute)
		require.NoError(t, err)
	}

	_, err = locker.Acquire(ctx, "scraping_task:all", time.Hour, 0)
	require.ErrorIs(t, err, ErrNotAcquired)
	require.True(t, lock.Release(ctx))
}
