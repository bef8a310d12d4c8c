/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log/logtest"
	"github.com/acronis/go-ratekit/retry"
)

type mockMetrics struct {
	mu      sync.Mutex
	runs    map[string]int
	running map[string]bool
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{runs: map[string]int{}, running: map[string]bool{}}
}

func (m *mockMetrics) IncRuns(source, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[source+"/"+result]++
}

func (m *mockMetrics) ObserveRunDuration(string, time.Duration) {}

func (m *mockMetrics) SetRunning(source string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[source] = running
}

func (m *mockMetrics) runsCount(source, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[source+"/"+result]
}

type ManagerTestSuite struct {
	suite.Suite
	newStore func(t *testing.T) kvstore.Store

	locker      *distlock.Locker
	logRecorder *logtest.Recorder
	metrics     *mockMetrics
}

func TestManager_Memory(t *testing.T) {
	suite.Run(t, &ManagerTestSuite{newStore: func(t *testing.T) kvstore.Store {
		store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{})
		require.NoError(t, err)
		return store
	}})
}

func TestManager_Redis(t *testing.T) {
	suite.Run(t, &ManagerTestSuite{newStore: func(t *testing.T) kvstore.Store {
		mr := miniredis.RunT(t)
		return kvstore.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	}})
}

func (s *ManagerTestSuite) SetupTest() {
	s.logRecorder = logtest.NewRecorder()
	s.metrics = newMockMetrics()
	s.locker = distlock.NewLockerWithOpts(s.newStore(s.T()), s.logRecorder,
		distlock.LockerOpts{PollInterval: 10 * time.Millisecond})
}

func (s *ManagerTestSuite) newManager(runner Runner, opts ManagerOpts) *Manager {
	if opts.LockWaitTimeout == 0 {
		opts.LockWaitTimeout = 50 * time.Millisecond
	}
	opts.MetricsCollector = s.metrics
	m := NewManagerWithOpts(s.locker, runner, s.logRecorder, opts)
	s.T().Cleanup(func() { _ = m.Close() })
	return m
}

func (s *ManagerTestSuite) TestTrigger() {
	ctx := context.Background()
	release := make(chan struct{})
	var mu sync.Mutex
	var gotSourceIDs []string
	m := s.newManager(RunnerFunc(func(ctx context.Context, sourceID string) error {
		mu.Lock()
		gotSourceIDs = append(gotSourceIDs, sourceID)
		mu.Unlock()
		<-release
		return nil
	}), ManagerOpts{})

	task, err := m.Trigger(ctx, "", false)
	s.Require().NoError(err)
	s.Require().Equal(AllSources, task.SourceID)
	_, err = xid.FromString(task.ID)
	s.Require().NoError(err)
	s.Require().Equal(Status{SourceID: AllSources, Lock: "scraping_task:all", Running: true}, m.Status(ctx, ""))

	_, err = m.Trigger(ctx, AllSources, false)
	s.Require().ErrorIs(err, ErrInProgress)
	s.Require().Equal(1, s.metrics.runsCount(AllSources, RunResultSkipped))

	// Runs for other sources are not blocked.
	otherTask, err := m.Trigger(ctx, "42", false)
	s.Require().NoError(err)
	s.Require().NotEqual(task.ID, otherTask.ID)

	close(release)
	m.Wait()
	s.Require().ElementsMatch([]string{AllSources, "42"}, gotSourceIDs)
	s.Require().False(m.Status(ctx, "").Running)
	s.Require().False(m.Status(ctx, "42").Running)
	s.Require().Equal(1, s.metrics.runsCount(AllSources, RunResultSuccess))
	s.Require().Equal(1, s.metrics.runsCount("42", RunResultSuccess))
}

func (s *ManagerTestSuite) TestTrigger_Force() {
	ctx := context.Background()

	// The lock is held by a stuck run of another process.
	_, err := s.locker.Acquire(ctx, LockName("7"), time.Hour, time.Second)
	s.Require().NoError(err)

	var calls atomic.Int32
	m := s.newManager(RunnerFunc(func(context.Context, string) error {
		calls.Inc()
		return nil
	}), ManagerOpts{})

	_, err = m.Trigger(ctx, "7", false)
	s.Require().ErrorIs(err, ErrInProgress)

	task, err := m.Trigger(ctx, "7", true)
	s.Require().NoError(err)
	s.Require().Equal("7", task.SourceID)
	m.Wait()
	s.Require().Equal(int32(1), calls.Load())
	s.Require().Equal(1, s.logRecorder.CountEntries("scraping lock is force released"))
	s.Require().False(m.Status(ctx, "7").Running)
}

func (s *ManagerTestSuite) TestRun_Retry() {
	var calls atomic.Int32
	m := s.newManager(RunnerFunc(func(context.Context, string) error {
		if calls.Inc() < 3 {
			return errors.New("scraper is temporarily unavailable")
		}
		return nil
	}), ManagerOpts{RetryPolicy: retry.NewConstantBackoffPolicy(time.Millisecond, 3)})

	s.Require().NoError(m.Run(context.Background(), "1"))
	s.Require().Equal(int32(3), calls.Load())
	s.Require().Equal(2, s.logRecorder.CountEntries("scraping run failed, will retry"))
	s.Require().Equal(1, s.metrics.runsCount("1", RunResultSuccess))
	s.Require().False(m.Status(context.Background(), "1").Running)
}

func (s *ManagerTestSuite) TestRun_PermanentError() {
	runErr := errors.New("source not found")
	var calls atomic.Int32
	m := s.newManager(RunnerFunc(func(context.Context, string) error {
		calls.Inc()
		return Permanent(runErr)
	}), ManagerOpts{RetryPolicy: retry.NewConstantBackoffPolicy(time.Millisecond, 3)})

	s.Require().ErrorIs(m.Run(context.Background(), "1"), runErr)
	s.Require().Equal(int32(1), calls.Load())
	s.Require().Equal(1, s.metrics.runsCount("1", RunResultFailure))
	s.Require().Equal(1, s.logRecorder.CountEntries("scraping run failed"))
	s.Require().False(m.Status(context.Background(), "1").Running)
}

func (s *ManagerTestSuite) TestRun_Timeout() {
	m := s.newManager(RunnerFunc(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}), ManagerOpts{RunTimeout: 50 * time.Millisecond, RetryPolicy: retry.NewConstantBackoffPolicy(time.Millisecond, 3)})

	s.Require().ErrorIs(m.Run(context.Background(), "1"), context.DeadlineExceeded)
	s.Require().Equal(1, s.metrics.runsCount("1", RunResultCanceled))
	s.Require().False(m.Status(context.Background(), "1").Running)
}

func (s *ManagerTestSuite) TestClose() {
	ctx := context.Background()
	started := make(chan struct{})
	m := s.newManager(RunnerFunc(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), ManagerOpts{})

	_, err := m.Trigger(ctx, "1", false)
	s.Require().NoError(err)
	<-started

	s.Require().NoError(m.Close())
	s.Require().False(m.Status(ctx, "1").Running)
	s.Require().Equal(1, s.metrics.runsCount("1", RunResultCanceled))

	_, err = m.Trigger(ctx, "1", false)
	s.Require().ErrorIs(err, ErrClosed)
	s.Require().False(m.Status(ctx, "1").Running)
}

func TestLockName(t *testing.T) {
	require.Equal(t, "scraping_task:all", LockName(""))
	require.Equal(t, "scraping_task:all", LockName(AllSources))
	require.Equal(t, "scraping_task:15", LockName("15"))
}
