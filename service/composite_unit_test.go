/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type mockUnit struct {
	name           string
	runningCounter *atomic.Int32
	stop           chan struct{}
	stopWithError  bool

	startCalled               atomic.Int32
	stopCalled                atomic.Int32
	stopGracefullyCalled      atomic.Int32
	mustRegisterMetricsCalled atomic.Int32
	unregisterMetricsCalled   atomic.Int32
}

func newMockUnit(name string, runningCounter *atomic.Int32, stopWithError bool) *mockUnit {
	return &mockUnit{
		name:           name,
		runningCounter: runningCounter,
		stop:           make(chan struct{}),
		stopWithError:  stopWithError,
	}
}

func (u *mockUnit) Start(_ chan<- error) {
	u.startCalled.Inc()
	u.runningCounter.Inc()
	<-u.stop
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalled.Inc()
	if gracefully {
		u.stopGracefullyCalled.Inc()
	}
	defer func() {
		u.stop <- struct{}{}
		u.runningCounter.Dec()
	}()
	if u.stopWithError {
		return fmt.Errorf("%s: internal error", u.name)
	}
	return nil
}

func (u *mockUnit) MustRegisterMetrics() {
	u.mustRegisterMetricsCalled.Inc()
}

func (u *mockUnit) UnregisterMetrics() {
	u.unregisterMetricsCalled.Inc()
}

type failingUnit struct {
	err     error
	stopped atomic.Bool
}

func (u *failingUnit) Start(fatalError chan<- error) {
	fatalError <- u.err
}

func (u *failingUnit) Stop(bool) error {
	u.stopped.Store(true)
	return nil
}

func waitTrue(trueFunc func() bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if trueFunc() {
			return nil
		}
		select {
		case <-timer.C:
			return errors.New("waiting true timed out")
		default:
			time.Sleep(time.Millisecond * 10)
		}
	}
}

func makeCompositeUnit(n int, runningCounter *atomic.Int32, stopWithErrorsFunc func(index int) bool) *CompositeUnit {
	if stopWithErrorsFunc == nil {
		stopWithErrorsFunc = func(_ int) bool { return false }
	}
	var units []Unit
	for i := 0; i < n; i++ {
		units = append(units, newMockUnit(fmt.Sprintf("unit#%d", i), runningCounter, stopWithErrorsFunc(i)))
	}
	return NewCompositeUnit(units...)
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("start w/o error and stop w/o error", func(t *testing.T) {
		const unitsNum = 100
		var runningCounter atomic.Int32

		compositeUnit := makeCompositeUnit(unitsNum, &runningCounter, nil)

		startExit := make(chan struct{})
		go func() {
			defer close(startExit)
			compositeUnit.Start(make(chan error, 1))
		}()

		require.NoError(t, waitTrue(func() bool { return runningCounter.Load() == unitsNum }, time.Second*3),
			"%d units should be started", unitsNum)

		require.NoError(t, compositeUnit.Stop(true))
		require.Zero(t, runningCounter.Load(), "there should be no running units")
		select {
		case <-time.After(time.Second * 3):
			require.Fail(t, "waiting finish of Start() is timed out")
		case <-startExit:
		}
	})

	t.Run("start w/o error and stop with error", func(t *testing.T) {
		const unitsStopWithErrorNum = 60
		const unitsStopWOErrorNum = 40
		const unitsNum = unitsStopWithErrorNum + unitsStopWOErrorNum
		var runningCounter atomic.Int32

		compositeUnit := makeCompositeUnit(unitsNum, &runningCounter,
			func(index int) bool { return index < unitsStopWithErrorNum })

		startExit := make(chan struct{})
		go func() {
			defer close(startExit)
			compositeUnit.Start(make(chan error, 1))
		}()

		require.NoError(t, waitTrue(func() bool { return runningCounter.Load() == unitsNum }, time.Second*3))

		err := compositeUnit.Stop(true)
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Len(t, cuErr.UnitErrors, unitsStopWithErrorNum)
		require.Zero(t, runningCounter.Load(), "there should be no running units")
		select {
		case <-time.After(time.Second * 3):
			require.Fail(t, "waiting finish of Start() is timed out")
		case <-startExit:
		}
	})

	t.Run("unit fails on start", func(t *testing.T) {
		var runningCounter atomic.Int32
		okUnit := newMockUnit("ok", &runningCounter, false)
		startErr := errors.New("listen: address already in use")
		badUnit := &failingUnit{err: startErr}
		compositeUnit := NewCompositeUnit(okUnit, badUnit)

		fatalErr := make(chan error, 1)
		compositeUnit.Start(fatalErr)

		err := <-fatalErr
		require.ErrorIs(t, err, startErr)
		require.True(t, badUnit.stopped.Load())
		require.Equal(t, int32(1), okUnit.stopCalled.Load())
		require.Zero(t, okUnit.stopGracefullyCalled.Load())
	})
}

func TestCompositeUnit_Metrics(t *testing.T) {
	var runningCounter atomic.Int32
	u1 := newMockUnit("u1", &runningCounter, false)
	u2 := newMockUnit("u2", &runningCounter, false)
	compositeUnit := NewCompositeUnit(u1, u2, &failingUnit{})

	compositeUnit.MustRegisterMetrics()
	compositeUnit.UnregisterMetrics()
	for _, u := range []*mockUnit{u1, u2} {
		require.Equal(t, int32(1), u.mustRegisterMetricsCalled.Load())
		require.Equal(t, int32(1), u.unregisterMetricsCalled.Load())
	}
}
