/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/acronis/go-ratekit/log"
)

// Worker performs some (usually long-running) work.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run is a part of Worker interface.
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PeriodicWorkerOpts contains optional parameters for constructing PeriodicWorker.
type PeriodicWorkerOpts struct {
	// Name is added to every log entry of the worker as the "worker" field.
	Name string

	// InitialDelay is waited before the first run.
	InitialDelay time.Duration
}

// PeriodicWorker runs the underlying worker with the interval between the end of a run and the start of the next one.
// Failed runs are logged and don't stop the loop.
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	opts     PeriodicWorkerOpts
	logger   log.FieldLogger
}

// NewPeriodicWorker creates a new instance of PeriodicWorker.
func NewPeriodicWorker(worker Worker, interval time.Duration, logger log.FieldLogger, opts PeriodicWorkerOpts) *PeriodicWorker {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.Name != "" {
		logger = logger.With(log.String("worker", opts.Name))
	}
	return &PeriodicWorker{worker: worker, interval: interval, opts: opts, logger: logger}
}

// Run runs the loop until ctx is canceled.
func (pw *PeriodicWorker) Run(ctx context.Context) error {
	pw.logger.Info("periodic worker started",
		log.Duration("initial_delay", pw.opts.InitialDelay), log.Duration("interval", pw.interval))

	delay := pw.opts.InitialDelay
	for {
		select {
		case <-ctx.Done():
			pw.logger.Info("periodic worker stopped")
			return nil
		case <-time.After(delay):
		}
		pw.runOnce(ctx)
		delay = pw.interval
	}
}

func (pw *PeriodicWorker) runOnce(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			pw.logger.Error(fmt.Sprintf("panic in periodic worker: %+v", p), log.Bytes("stack", debug.Stack()))
			panic(p)
		}
	}()

	startTime := time.Now()
	if err := pw.worker.Run(ctx); err != nil && ctx.Err() == nil {
		pw.logger.Error("periodic run failed", log.Error(err), log.DurationIn(time.Since(startTime), time.Millisecond))
	}
}
