/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func startWorkerUnit(unit *WorkerUnit) chan error {
	fatalErr := make(chan error, 1)
	go unit.Start(fatalErr)
	return fatalErr
}

func TestWorkerUnit_Stop(t *testing.T) {
	t.Run("not gracefully", func(t *testing.T) {
		var finished atomic.Bool
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
			return nil
		}), WorkerUnitOpts{})
		fatalErr := startWorkerUnit(unit)

		require.NoError(t, unit.Stop(false))
		require.False(t, finished.Load())
		require.Empty(t, fatalErr)
	})

	t.Run("gracefully waits for the current run", func(t *testing.T) {
		var finished atomic.Bool
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		}), WorkerUnitOpts{})
		fatalErr := startWorkerUnit(unit)

		require.NoError(t, unit.Stop(true))
		require.True(t, finished.Load())
		require.Empty(t, fatalErr)
	})

	t.Run("gracefully with exceeded timeout", func(t *testing.T) {
		unit := NewWorkerUnit(WorkerFunc(func(context.Context) error {
			time.Sleep(2 * time.Second)
			return nil
		}), WorkerUnitOpts{GracefulStopTimeout: 100 * time.Millisecond})
		startWorkerUnit(unit)

		require.ErrorIs(t, unit.Stop(true), ErrWorkerUnitStopTimeoutExceeded)
	})
}

func TestWorkerUnit_Start_WorkerError(t *testing.T) {
	unit := NewWorkerUnit(WorkerFunc(func(context.Context) error {
		return context.DeadlineExceeded
	}), WorkerUnitOpts{})
	fatalErr := startWorkerUnit(unit)

	select {
	case err := <-fatalErr:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		require.Fail(t, "worker error was not reported")
	}
	require.NoError(t, unit.Stop(true))
}
