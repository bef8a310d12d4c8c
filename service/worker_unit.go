/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"time"
)

// ErrWorkerUnitStopTimeoutExceeded is returned by WorkerUnit.Stop when the worker doesn't return in time.
var ErrWorkerUnitStopTimeoutExceeded = errors.New("worker unit stop timeout exceeded")

// WorkerUnitOpts contains optional parameters for constructing WorkerUnit.
type WorkerUnitOpts struct {
	// GracefulStopTimeout bounds waiting for the worker on graceful stop. Zero means waiting without a limit.
	GracefulStopTimeout time.Duration
}

// WorkerUnit runs Worker as Unit: Start blocks until the worker returns, Stop cancels the worker's context.
type WorkerUnit struct {
	worker Worker
	opts   WorkerUnitOpts
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Unit = (*WorkerUnit)(nil)

// NewWorkerUnit creates a new instance of WorkerUnit.
func NewWorkerUnit(worker Worker, opts WorkerUnitOpts) *WorkerUnit {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerUnit{worker: worker, opts: opts, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Start runs the worker. Its error is sent to fatalError.
func (u *WorkerUnit) Start(fatalError chan<- error) {
	defer close(u.done)
	if err := u.worker.Run(u.ctx); err != nil {
		fatalError <- err
	}
}

// Stop cancels the worker. In the graceful mode it also waits until the worker returns.
func (u *WorkerUnit) Stop(gracefully bool) error {
	u.cancel()
	if !gracefully {
		return nil
	}
	var timeout <-chan time.Time
	if u.opts.GracefulStopTimeout > 0 {
		timeout = time.After(u.opts.GracefulStopTimeout)
	}
	select {
	case <-u.done:
		return nil
	case <-timeout:
		return ErrWorkerUnitStopTimeoutExceeded
	}
}
