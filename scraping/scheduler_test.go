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

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log/logtest"
)

func newTestLocker(t *testing.T) *distlock.Locker {
	t.Helper()
	store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{})
	require.NoError(t, err)
	return distlock.NewLockerWithOpts(store, nil, distlock.LockerOpts{PollInterval: 10 * time.Millisecond})
}

func TestScheduler_Run(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	// Source "2" is being scraped by another process.
	busyLock, err := locker.Acquire(ctx, LockName("2"), time.Minute, time.Second)
	require.NoError(t, err)
	defer busyLock.Release(ctx)

	var mu sync.Mutex
	var scraped []string
	runner := RunnerFunc(func(_ context.Context, sourceID string) error {
		mu.Lock()
		defer mu.Unlock()
		scraped = append(scraped, sourceID)
		if sourceID == "3" {
			return errors.New("scraper crashed")
		}
		return nil
	})
	logRecorder := logtest.NewRecorder()
	manager := NewManagerWithOpts(locker, runner, logRecorder, ManagerOpts{LockWaitTimeout: 30 * time.Millisecond})
	defer func() { require.NoError(t, manager.Close()) }()

	scheduler := NewScheduler(manager, []string{"1", "2", "3"}, logRecorder)
	err = scheduler.Run(ctx)
	require.ErrorContains(t, err, "source 3: scraper crashed")
	require.Equal(t, []string{"1", "3"}, scraped)
	require.Equal(t, 1, logRecorder.CountEntries("scheduled scraping is skipped, source is already being scraped"))
}

func TestScheduler_AllSourcesByDefault(t *testing.T) {
	var scraped []string
	manager := NewManager(newTestLocker(t), RunnerFunc(func(_ context.Context, sourceID string) error {
		scraped = append(scraped, sourceID)
		return nil
	}), nil)
	defer func() { require.NoError(t, manager.Close()) }()

	require.NoError(t, NewScheduler(manager, nil, nil).Run(context.Background()))
	require.Equal(t, []string{AllSources}, scraped)
}

func TestSchedulerUnit(t *testing.T) {
	runs := make(chan string, 10)
	manager := NewManager(newTestLocker(t), RunnerFunc(func(_ context.Context, sourceID string) error {
		runs <- sourceID
		return nil
	}), nil)
	defer func() { require.NoError(t, manager.Close()) }()

	unit := NewSchedulerUnit(NewScheduler(manager, []string{"5"}, nil), ScheduleConfig{
		Enabled:  true,
		Interval: config.TimeDuration(20 * time.Millisecond),
	}, time.Second, logtest.NewRecorder())

	fatalErr := make(chan error, 1)
	go unit.Start(fatalErr)

	for i := 0; i < 2; i++ {
		select {
		case src := <-runs:
			require.Equal(t, "5", src)
		case <-time.After(3 * time.Second):
			require.Fail(t, "scheduled scraping was not run")
		}
	}
	require.NoError(t, unit.Stop(true))
	require.Empty(t, fatalErr)
}
