/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratekit/log/logtest"
)

func TestPeriodicWorker_Run(t *testing.T) {
	t.Run("initial delay, then runs until context is canceled", func(t *testing.T) {
		var runs atomic.Int32
		worker := NewPeriodicWorker(WorkerFunc(func(context.Context) error {
			runs.Inc()
			return nil
		}), 50*time.Millisecond, nil, PeriodicWorkerOpts{InitialDelay: 200 * time.Millisecond})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		require.NoError(t, worker.Run(ctx))
		require.Zero(t, runs.Load())

		ctx, cancel = context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		require.NoError(t, worker.Run(ctx))
		require.GreaterOrEqual(t, runs.Load(), int32(3))
	})

	t.Run("failed runs are logged and don't stop the loop", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		var runs atomic.Int32
		worker := NewPeriodicWorker(WorkerFunc(func(context.Context) error {
			if runs.Inc() == 1 {
				return errors.New("scraper service is unavailable")
			}
			return nil
		}), 10*time.Millisecond, logRecorder, PeriodicWorkerOpts{Name: "scraping-scheduler"})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		require.NoError(t, worker.Run(ctx))
		require.Greater(t, runs.Load(), int32(1))

		require.Equal(t, 1, logRecorder.CountEntries("periodic run failed"))
		entry, found := logRecorder.FindEntry("periodic run failed")
		require.True(t, found)
		field, found := entry.FindField("worker")
		require.True(t, found)
		require.Equal(t, "scraping-scheduler", string(field.Bytes))
		_, found = logRecorder.FindEntry("periodic worker stopped")
		require.True(t, found)
	})

	t.Run("panic is logged and propagated", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		worker := NewPeriodicWorker(WorkerFunc(func(context.Context) error {
			panic("nil source")
		}), time.Second, logRecorder, PeriodicWorkerOpts{})

		require.PanicsWithValue(t, "nil source", func() { _ = worker.Run(context.Background()) })
		entry, found := logRecorder.FindEntry("panic in periodic worker: nil source")
		require.True(t, found)
		_, found = entry.FindField("stack")
		require.True(t, found)
	})
}
