/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/service"
)

// Scheduler runs scraping for the configured sources one after another.
// It's a service.Worker and is supposed to be run by service.PeriodicWorker.
type Scheduler struct {
	manager *Manager
	sources []string
	logger  log.FieldLogger
}

var _ service.Worker = (*Scheduler)(nil)

// NewScheduler creates a new Scheduler. All sources are scraped in a single run if sources is empty.
func NewScheduler(manager *Manager, sources []string, logger log.FieldLogger) *Scheduler {
	if len(sources) == 0 {
		sources = []string{AllSources}
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Scheduler{manager: manager, sources: sources, logger: logger}
}

// Run implements service.Worker. Sources that are already being scraped by someone else are skipped.
// Errors of the other sources are joined and returned after all sources are processed.
func (s *Scheduler) Run(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return nil
		}
		err := s.manager.Run(ctx, src)
		switch {
		case err == nil:
		case errors.Is(err, ErrInProgress):
			s.logger.Info("scheduled scraping is skipped, source is already being scraped", log.String("source_id", src))
		case ctx.Err() != nil:
			return nil
		default:
			errs = append(errs, fmt.Errorf("source %s: %w", src, err))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("scheduled scraping: %w", errors.Join(errs...))
	}
	return nil
}

// NewSchedulerUnit creates a service unit that runs the scheduler periodically.
// The unit waits for the current run on graceful stop not longer than stopTimeout (if it's > 0).
func NewSchedulerUnit(scheduler *Scheduler, cfg ScheduleConfig, stopTimeout time.Duration, logger log.FieldLogger) *service.WorkerUnit {
	worker := service.NewPeriodicWorker(scheduler, time.Duration(cfg.Interval), logger, service.PeriodicWorkerOpts{
		Name:         "scraping-scheduler",
		InitialDelay: time.Duration(cfg.InitialDelay),
	})
	return service.NewWorkerUnit(worker, service.WorkerUnitOpts{GracefulStopTimeout: stopTimeout})
}
