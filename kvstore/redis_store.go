/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token bucket state is a hash {tokens, last_refill}; refill, take and expire happen in one script.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end
local elapsed = now - last
if elapsed < 0 then
	elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(now))
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tostring(tokens)}
`)

var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var incrementScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

var compareAndSwapScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false or v ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore is a Store backed by redis.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new RedisStore over the given client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying redis client.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Get returns the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores the value at key. Zero ttl means no expiration.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores the value only if the key doesn't exist.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %q: %w", key, err)
	}
	return n > 0, nil
}

// Exists reports whether the key exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// TTL returns the remaining time to live of the key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis pttl %q: %w", key, err)
	}
	switch {
	case ttl == -2: // no such key
		return 0, false, nil
	case ttl < 0: // no expiration
		return 0, true, nil
	}
	return ttl, true, nil
}

// Increment increments the counter at key, the ttl is set when the counter is created.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return n, nil
}

// ZAdd adds a member with the score to the sorted set.
func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("redis zadd %q: %w", key, err)
	}
	return nil
}

// ZRemRangeByScore removes sorted set members with scores within [min, max].
func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zremrangebyscore %q: %w", key, err)
	}
	return n, nil
}

// ZCard returns the number of sorted set members.
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard %q: %w", key, err)
	}
	return n, nil
}

// SlidingWindow runs ZREMRANGEBYSCORE, ZCARD, ZADD and EXPIRE in one MULTI/EXEC transaction.
func (s *RedisStore) SlidingWindow(ctx context.Context, op SlidingWindowOp) (SlidingWindowResult, error) {
	now := unixSeconds(op.Now)
	windowStart := unixSeconds(op.Now.Add(-op.Window))

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, op.Key, "0", formatScore(windowStart))
	card := pipe.ZCard(ctx, op.Key)
	pipe.ZAdd(ctx, op.Key, redis.Z{Score: now, Member: op.Member})
	pipe.Expire(ctx, op.Key, op.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return SlidingWindowResult{}, fmt.Errorf("redis sliding window %q: %w", op.Key, err)
	}
	return SlidingWindowResult{Count: card.Val()}, nil
}

// TakeToken refills the bucket and consumes one token if available.
func (s *RedisStore) TakeToken(ctx context.Context, op TokenBucketOp) (TokenBucketResult, error) {
	res, err := takeTokenScript.Run(ctx, s.client, []string{op.Key},
		strconv.FormatFloat(op.Capacity, 'f', -1, 64),
		strconv.FormatFloat(op.RefillRate, 'f', -1, 64),
		strconv.FormatFloat(unixSeconds(op.Now), 'f', 6, 64),
		op.TTL.Milliseconds(),
	).Slice()
	if err != nil {
		return TokenBucketResult{}, fmt.Errorf("redis token bucket %q: %w", op.Key, err)
	}
	if len(res) != 2 {
		return TokenBucketResult{}, fmt.Errorf("redis token bucket %q: unexpected script reply %v", op.Key, res)
	}
	allowed, _ := res[0].(int64)
	tokensStr, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return TokenBucketResult{}, fmt.Errorf("redis token bucket %q: parse tokens: %w", op.Key, err)
	}
	return TokenBucketResult{Allowed: allowed == 1, Tokens: tokens}, nil
}

// CompareAndDelete deletes the key only if it holds the value.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %q: %w", key, err)
	}
	return n == 1, nil
}

// GetIntWithTime returns the integer at key (-1 if missing) and the redis server time.
func (s *RedisStore) GetIntWithTime(ctx context.Context, key string) (int64, time.Time, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	timeCmd := pipe.Time(ctx)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis get with time %q: %w", key, err)
	}
	now, err := timeCmd.Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	val, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return -1, now, nil
		}
		return 0, time.Time{}, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, now, nil
}

// SetIntIfAbsent stores the integer only if the key doesn't exist.
func (s *RedisStore) SetIntIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	return s.SetIfAbsent(ctx, key, []byte(strconv.FormatInt(value, 10)), ttl)
}

// CompareAndSwapInt replaces the integer at key only if it equals old.
func (s *RedisStore) CompareAndSwapInt(ctx context.Context, key string, old, new int64, ttl time.Duration) (bool, error) {
	n, err := compareAndSwapScript.Run(ctx, s.client, []string{key}, old, new, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-swap %q: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks the connection to redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
