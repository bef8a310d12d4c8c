/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living units (HTTP server, periodic workers) and stops them gracefully
// when the process receives a shutdown signal.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-ratekit/log"
)

// Opts represents an options for Service.
type Opts struct {
	ShutdownSignals []os.Signal

	// Closers are closed one by one in the given order after the unit is stopped.
	// Shared resources used by the unit (e.g. key-value store connections) belong here.
	Closers []io.Closer
}

// Service represents a service which can register metrics in Prometheus client,
// start unit and stop it in a graceful way by OS signal.
type Service struct {
	Unit    Unit
	Signals chan os.Signal
	Logger  log.FieldLogger
	Opts    Opts
}

// New creates new Service which will start and stop passing unit.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{})
}

// NewWithOpts is a more configurable version of New.
// SIGINT and SIGTERM are used if no shutdown signals are specified.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	if len(opts.ShutdownSignals) == 0 {
		opts.ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Service{
		Signals: make(chan os.Signal, 1),
		Unit:    unit,
		Logger:  logger,
		Opts:    opts,
	}
}

// Start wraps StartContext using the background context.
func (s *Service) Start() error {
	return s.StartContext(context.Background())
}

// StartContext starts service unit in the separate goroutine and
// blocks until fatal error occurs, the context is canceled or any of the OS shutting down signals are received.
func (s *Service) StartContext(ctx context.Context) (resErr error) {
	if mr, ok := s.Unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}
	defer func() {
		if closeErr := s.closeAll(); closeErr != nil && resErr == nil {
			resErr = closeErr
		}
	}()

	fatalError := make(chan error, 1)
	go s.Unit.Start(fatalError)

	signal.Notify(s.Signals, s.Opts.ShutdownSignals...)
	defer signal.Stop(s.Signals)

	select {
	case <-ctx.Done():
		s.Logger.Info("context is canceled, service will be stopped")
	case err := <-fatalError:
		s.Logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	case sig := <-s.Signals:
		s.Logger.Info("service got signal", log.String("signal", sig.String()))
	}

	if err := s.Unit.Stop(true); err != nil {
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	s.Logger.Info("service stopped gracefully")
	return nil
}

func (s *Service) closeAll() error {
	var errs []error
	for _, c := range s.Opts.Closers {
		if err := c.Close(); err != nil {
			s.Logger.Error("error while closing service resource", log.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("close service resources: %w", errors.Join(errs...))
	}
	return nil
}
