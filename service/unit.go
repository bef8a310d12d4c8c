/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

// Unit represents a service unit that can be started and stopped.
type Unit interface {
	// Start begins the unit's operation. It may return immediately after initialization
	// or block the calling goroutine for the unit's lifetime.
	//
	// A failure is reported by writing to the fatalErr channel before returning.
	// The channel must not be used after Start has returned.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	// If gracefully is true, the unit should wait for in-flight work to finish.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
