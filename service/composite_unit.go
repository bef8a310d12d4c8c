/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// CompositeUnit represents a composition of service units and implements Composite design pattern.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

// Start launches all units in the composition concurrently, each in its own goroutine.
// It blocks until all Start method invocations return.
//
// If any unit reports a fatal error, all units are stopped non-gracefully,
// and CompositeUnitError with the fatal and stop errors is sent to the channel.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	unitErrs := make([]chan error, len(cu.Units))
	for i := range unitErrs {
		unitErrs[i] = make(chan error, 1)
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	var running atomic.Int32
	running.Store(int32(len(cu.Units))) //nolint:gosec // unit count is reasonable
	allReturned := make(chan struct{})
	if len(cu.Units) == 0 {
		close(allReturned)
	}

	for i, unit := range cu.Units {
		go func(i int, unit Unit) {
			unit.Start(unitErrs[i])
			if len(unitErrs[i]) != 0 {
				failOnce.Do(func() { close(failed) })
				return
			}
			if running.Dec() == 0 {
				close(allReturned)
			}
		}(i, unit)
	}

	select {
	case <-allReturned:
		return
	case <-failed:
	}

	stopErr := cu.Stop(false)

	var errs []error
	for _, unitErr := range unitErrs {
		select {
		case err := <-unitErr:
			errs = append(errs, err)
		default:
		}
	}
	var compositeStopErr *CompositeUnitError
	if errors.As(stopErr, &compositeStopErr) {
		errs = append(errs, compositeStopErr.UnitErrors...)
	}
	fatalError <- &CompositeUnitError{errs}
}

// Stop stops all units in the composition (each in its own separate goroutine).
// Errors that occurred while stopping the units are collected and single CompositeUnitError is returned.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, unit := range cu.Units {
		wg.Add(1)
		go func(unit Unit) {
			defer wg.Done()
			if err := unit.Stop(gracefully); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(unit)
	}
	wg.Wait()

	if len(errs) > 0 {
		return &CompositeUnitError{errs}
	}
	return nil
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError is an error which may occurs in CompositeUnit's methods.
type CompositeUnitError struct {
	UnitErrors []error
}

// Error returns a string representation of a units composition error.
func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns errors of the units, so errors.Is and errors.As can look into them.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
