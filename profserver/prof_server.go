/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an optional HTTP server with pprof endpoints for the daemon.
package profserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/service"
)

const readHeaderTimeout = 5 * time.Second

// ProfServer represents HTTP server for profiling. pprof is used under the hood.
type ProfServer struct {
	URL        string
	HTTPServer *http.Server
	Logger     log.FieldLogger

	done chan struct{}
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new HTTP server (pprof) for profiling.
// Its requests bypass the rate limiting and monitoring of the main server.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
	)
	router.Mount("/debug", chimiddleware.Profiler())

	return &ProfServer{
		URL:        "http://" + cfg.Address,
		HTTPServer: &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: readHeaderTimeout},
		Logger:     logger.With(log.String("address", cfg.Address)),
		done:       make(chan struct{}),
	}
}

// Start starts profiling HTTP server in a blocking way.
// If a fatal error occurs, it's sent into passed fatalError channel.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.done)

	s.Logger.Info("starting profiling HTTP server...")
	if err := s.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	s.Logger.Info("profiling HTTP server closed")
}

// Stop closes the server. Profiles in progress are always interrupted.
func (s *ProfServer) Stop(bool) error {
	if err := s.HTTPServer.Close(); err != nil {
		s.Logger.Error("profiling HTTP server closing error", log.Error(err))
		return err
	}
	<-s.done
	return nil
}
