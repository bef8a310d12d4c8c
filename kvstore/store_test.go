/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testBaseTime = time.Unix(1700000000, 0)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// StoreTestSuite runs the same scenarios against every Store implementation.
type StoreTestSuite struct {
	suite.Suite
	newStore func(t *testing.T) (store Store, advance func(d time.Duration))

	store   Store
	advance func(d time.Duration)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{newStore: func(t *testing.T) (Store, func(time.Duration)) {
		clock := &fakeClock{now: testBaseTime}
		store, err := NewMemoryStore(MemoryStoreOpts{MaxKeys: 100, Now: clock.Now})
		require.NoError(t, err)
		return store, func(d time.Duration) { clock.now = clock.now.Add(d) }
	}})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{newStore: func(t *testing.T) (Store, func(time.Duration)) {
		mr := miniredis.RunT(t)
		mr.SetTime(testBaseTime)
		store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { _ = store.Close() })
		var elapsed time.Duration
		return store, func(d time.Duration) {
			elapsed += d
			mr.SetTime(testBaseTime.Add(elapsed))
			mr.FastForward(d)
		}
	}})
}

func (s *StoreTestSuite) SetupTest() {
	s.store, s.advance = s.newStore(s.T())
}

func (s *StoreTestSuite) TestSetGetDelete() {
	ctx := context.Background()

	_, found, err := s.store.Get(ctx, "missing")
	s.Require().NoError(err)
	s.Require().False(found)

	s.Require().NoError(s.store.Set(ctx, "key", []byte("value"), time.Minute))
	val, found, err := s.store.Get(ctx, "key")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal("value", string(val))

	exists, err := s.store.Exists(ctx, "key")
	s.Require().NoError(err)
	s.Require().True(exists)

	deleted, err := s.store.Delete(ctx, "key")
	s.Require().NoError(err)
	s.Require().True(deleted)

	deleted, err = s.store.Delete(ctx, "key")
	s.Require().NoError(err)
	s.Require().False(deleted)
}

func (s *StoreTestSuite) TestSetIfAbsentAndTTL() {
	ctx := context.Background()

	ok, err := s.store.SetIfAbsent(ctx, "lock", []byte("token1"), 10*time.Second)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.store.SetIfAbsent(ctx, "lock", []byte("token2"), 10*time.Second)
	s.Require().NoError(err)
	s.Require().False(ok)

	ttl, found, err := s.store.TTL(ctx, "lock")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().InDelta(10*time.Second, ttl, float64(time.Second))

	s.advance(11 * time.Second)

	ok, err = s.store.SetIfAbsent(ctx, "lock", []byte("token2"), 10*time.Second)
	s.Require().NoError(err)
	s.Require().True(ok, "expired key must not block SetIfAbsent")

	_, found, err = s.store.TTL(ctx, "missing")
	s.Require().NoError(err)
	s.Require().False(found)
}

func (s *StoreTestSuite) TestIncrementAppliesTTLOnFirstIncrementOnly() {
	ctx := context.Background()

	n, err := s.store.Increment(ctx, "counter", 10*time.Second)
	s.Require().NoError(err)
	s.Require().EqualValues(1, n)

	s.advance(6 * time.Second)
	n, err = s.store.Increment(ctx, "counter", 10*time.Second)
	s.Require().NoError(err)
	s.Require().EqualValues(2, n)

	s.advance(5 * time.Second)
	n, err = s.store.Increment(ctx, "counter", 10*time.Second)
	s.Require().NoError(err)
	s.Require().EqualValues(1, n, "counter must expire 10s after creation")
}

func (s *StoreTestSuite) TestSortedSetPrimitives() {
	ctx := context.Background()

	s.Require().NoError(s.store.ZAdd(ctx, "zset", 1, "a"))
	s.Require().NoError(s.store.ZAdd(ctx, "zset", 2, "b"))
	s.Require().NoError(s.store.ZAdd(ctx, "zset", 3, "c"))

	card, err := s.store.ZCard(ctx, "zset")
	s.Require().NoError(err)
	s.Require().EqualValues(3, card)

	removed, err := s.store.ZRemRangeByScore(ctx, "zset", 0, 2)
	s.Require().NoError(err)
	s.Require().EqualValues(2, removed)

	card, err = s.store.ZCard(ctx, "zset")
	s.Require().NoError(err)
	s.Require().EqualValues(1, card)

	card, err = s.store.ZCard(ctx, "missing")
	s.Require().NoError(err)
	s.Require().Zero(card)
}

func (s *StoreTestSuite) TestSlidingWindow() {
	ctx := context.Background()
	op := func(now time.Time, member string) SlidingWindowOp {
		return SlidingWindowOp{Key: "window", Now: now, Window: time.Minute, Member: member, TTL: time.Minute + time.Second}
	}

	for i, member := range []string{"r1", "r2", "r3"} {
		res, err := s.store.SlidingWindow(ctx, op(testBaseTime.Add(time.Duration(i)*time.Second), member))
		s.Require().NoError(err)
		s.Require().EqualValues(i, res.Count)
	}

	// r1 and r2 fall out of the window, r3 stays.
	res, err := s.store.SlidingWindow(ctx, op(testBaseTime.Add(time.Minute+time.Second), "r4"))
	s.Require().NoError(err)
	s.Require().EqualValues(1, res.Count)

	ttl, found, err := s.store.TTL(ctx, "window")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().InDelta(time.Minute+time.Second, ttl, float64(time.Second))
}

func (s *StoreTestSuite) TestTakeToken() {
	ctx := context.Background()
	op := func(now time.Time) TokenBucketOp {
		return TokenBucketOp{Key: "bucket", Now: now, Capacity: 2, RefillRate: 1, TTL: time.Minute}
	}

	res, err := s.store.TakeToken(ctx, op(testBaseTime))
	s.Require().NoError(err)
	s.Require().True(res.Allowed)
	s.Require().InDelta(1, res.Tokens, 0.001)

	res, err = s.store.TakeToken(ctx, op(testBaseTime))
	s.Require().NoError(err)
	s.Require().True(res.Allowed)
	s.Require().InDelta(0, res.Tokens, 0.001)

	res, err = s.store.TakeToken(ctx, op(testBaseTime))
	s.Require().NoError(err)
	s.Require().False(res.Allowed)

	res, err = s.store.TakeToken(ctx, op(testBaseTime.Add(time.Second)))
	s.Require().NoError(err)
	s.Require().True(res.Allowed, "one token must be refilled after one second")

	// The bucket never holds more than its capacity.
	res, err = s.store.TakeToken(ctx, op(testBaseTime.Add(time.Hour)))
	s.Require().NoError(err)
	s.Require().True(res.Allowed)
	s.Require().InDelta(1, res.Tokens, 0.001)
}

func (s *StoreTestSuite) TestCompareAndDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "lock", []byte("owner"), time.Minute))

	deleted, err := s.store.CompareAndDelete(ctx, "lock", []byte("intruder"))
	s.Require().NoError(err)
	s.Require().False(deleted)

	deleted, err = s.store.CompareAndDelete(ctx, "lock", []byte("owner"))
	s.Require().NoError(err)
	s.Require().True(deleted)

	exists, err := s.store.Exists(ctx, "lock")
	s.Require().NoError(err)
	s.Require().False(exists)
}

func (s *StoreTestSuite) TestIntOperations() {
	ctx := context.Background()

	val, now, err := s.store.GetIntWithTime(ctx, "tat")
	s.Require().NoError(err)
	s.Require().EqualValues(-1, val)
	s.Require().False(now.IsZero())

	ok, err := s.store.SetIntIfAbsent(ctx, "tat", 100, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.store.SetIntIfAbsent(ctx, "tat", 200, time.Minute)
	s.Require().NoError(err)
	s.Require().False(ok)

	ok, err = s.store.CompareAndSwapInt(ctx, "tat", 150, 200, time.Minute)
	s.Require().NoError(err)
	s.Require().False(ok)

	ok, err = s.store.CompareAndSwapInt(ctx, "tat", 100, 200, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	val, _, err = s.store.GetIntWithTime(ctx, "tat")
	s.Require().NoError(err)
	s.Require().EqualValues(200, val)

	ok, err = s.store.CompareAndSwapInt(ctx, "missing", 0, 1, time.Minute)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func TestMemoryStore_WrongType(t *testing.T) {
	store, err := NewMemoryStore(MemoryStoreOpts{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "zset", 1, "a"))
	_, _, err = store.Get(ctx, "zset")
	require.ErrorIs(t, err, ErrWrongType)
	_, err = store.Increment(ctx, "zset", time.Minute)
	require.ErrorIs(t, err, ErrWrongType)

	require.NoError(t, store.Set(ctx, "str", []byte("abc"), 0))
	_, err = store.Increment(ctx, "str", time.Minute)
	require.Error(t, err)
}

func TestMemoryStore_MaxKeys(t *testing.T) {
	store, err := NewMemoryStore(MemoryStoreOpts{MaxKeys: 2})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, key, []byte(key), 0))
	}
	require.Equal(t, 2, store.Len())
	_, found, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStore_ExpiringValuesAreNotEvicted(t *testing.T) {
	store, err := NewMemoryStore(MemoryStoreOpts{MaxKeys: 3})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "scraping_task:all", []byte("token"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Set(ctx, "blocked:ip:1.2.3.4", []byte("1"), time.Minute))

	for i := 0; i < 10; i++ {
		_, err = store.Increment(ctx, fmt.Sprintf("rate_limit:ip:1.2.3.4:/path/%d", i), time.Minute)
		require.NoError(t, err)
	}

	value, found, err := store.Get(ctx, "scraping_task:all")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("token"), value)
	found, err = store.Exists(ctx, "blocked:ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 3, store.Len())
}

func TestMemoryStore_LenSkipsExpiredKeys(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store, err := NewMemoryStore(MemoryStoreOpts{Now: clock.Now})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Increment(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "long", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	clock.now = clock.now.Add(2 * time.Second)
	require.Equal(t, 1, store.Len())
}
