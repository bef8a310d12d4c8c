/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/service"
)

const (
	networkTCP  = "tcp"
	networkUnix = "unix"
)

// Opts represents options for creating HTTPServer.
type Opts struct {
	// ErrorDomain is used for error response formatting.
	ErrorDomain string
	// Routes registers the application endpoints on the root router.
	Routes func(router chi.Router)
	// RootMiddlewares are applied after the default ones.
	RootMiddlewares []func(http.Handler) http.Handler
	// HealthCheck performs the health-check logic of the /healthz endpoint.
	HealthCheck HealthCheck
	// Backend, if set, is reported by the /healthz endpoint.
	Backend func() string
	// MetricsHandler is a custom handler for the /metrics endpoint. promhttp.Handler is used if nil.
	MetricsHandler http.Handler
	// MetricsNamespace is prepended to the names of HTTP request metrics.
	MetricsNamespace string

	// RequestRecorder receives every served request, usually it's monitoring.Collector.
	RequestRecorder middleware.RequestRecorder
	// RateLimiter enables the rate limiting middleware when it's not nil.
	RateLimiter middleware.RateLimitChecker
	RateLimit   middleware.RateLimitOpts

	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

func (opts Opts) routerOpts() RouterOpts {
	return RouterOpts{
		Routes:          opts.Routes,
		RootMiddlewares: opts.RootMiddlewares,
		ErrorDomain:     opts.ErrorDomain,
		HealthCheck:     opts.HealthCheck,
		Backend:         opts.Backend,
		MetricsHandler:  opts.MetricsHandler,
	}
}

// HTTPServer is the application HTTP server: chi router with request ids, logging, panic recovering,
// request metrics, rate limiting and health-checking. It's a service.Unit and a service.MetricsRegisterer.
type HTTPServer struct {
	// URL is the base URL of the server, "http://localhost" for a unix socket.
	URL             string
	ShutdownTimeout time.Duration

	server         *http.Server
	unixSocketPath string
	tls            TLSConfig
	logger         log.FieldLogger
	reqCollector   *middleware.HTTPRequestMetricsCollector

	listener net.Listener
	port     atomic.Int32
	done     chan struct{}
	started  atomic.Bool
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer.
func New(cfg *Config, logger log.FieldLogger, opts Opts) *HTTPServer { //nolint // hugeParam: opts is heavy, it's ok in this case.
	reqCollector := middleware.NewHTTPRequestMetricsCollectorWithOpts(
		middleware.HTTPRequestMetricsCollectorOpts{Namespace: opts.MetricsNamespace})
	router := chi.NewRouter()
	applyDefaultMiddlewaresToRouter(router, cfg, logger, opts, reqCollector)
	configureRouter(router, logger, opts.routerOpts())

	scheme := "http://"
	if cfg.TLS.Enabled {
		scheme = "https://"
	}
	host := cfg.Address
	if cfg.UnixSocketPath != "" {
		host = "localhost"
	}

	s := &HTTPServer{
		URL:             scheme + host,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			WriteTimeout:      time.Duration(cfg.Timeouts.Write),
			ReadTimeout:       time.Duration(cfg.Timeouts.Read),
			ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
			IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		},
		unixSocketPath: cfg.UnixSocketPath,
		tls:            cfg.TLS,
		logger:         logger,
		reqCollector:   reqCollector,
		done:           make(chan struct{}),
	}
	if opts.Listener != nil {
		s.setListener(opts.Listener)
	}
	return s
}

// Start serves requests until the server is stopped. A listening or serving error is sent to fatalError.
func (s *HTTPServer) Start(fatalError chan<- error) {
	s.started.Store(true)
	defer close(s.done)

	logger := s.logger.With(
		log.String("address", s.server.Addr),
		log.Duration("write_timeout", s.server.WriteTimeout),
		log.Duration("read_timeout", s.server.ReadTimeout),
		log.Duration("idle_timeout", s.server.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	if s.unixSocketPath != "" {
		logger = logger.With(log.String("unix_socket_path", s.unixSocketPath))
	}
	logger.Info("starting application HTTP server...")

	err := s.listen()
	if err == nil {
		if s.tls.Enabled {
			err = s.server.ServeTLS(s.listener, s.tls.Certificate, s.tls.Key)
		} else {
			err = s.server.Serve(s.listener)
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("application HTTP server closed")
		return
	}
	logger.Error("application HTTP server error", log.Error(err))
	fatalError <- err
}

func (s *HTTPServer) listen() error {
	if s.listener != nil {
		return nil
	}
	network, addr := s.NetworkAndAddr()
	if network == networkUnix {
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove unix socket file %q: %w", addr, err)
		}
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	s.setListener(listener)
	return nil
}

func (s *HTTPServer) setListener(listener net.Listener) {
	s.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(tcpAddr.Port))
	}
}

// Stop closes the server. In the graceful mode in-flight requests are waited for not longer than ShutdownTimeout.
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.logger.Info("closing application HTTP server...")
		if err := s.server.Close(); err != nil {
			s.logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.logger.Info("application HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if s.started.Load() {
		<-s.done
	}
}

// MustRegisterMetrics registers HTTP request metrics.
func (s *HTTPServer) MustRegisterMetrics() {
	s.reqCollector.MustRegister()
}

// UnregisterMetrics unregisters HTTP request metrics.
func (s *HTTPServer) UnregisterMetrics() {
	s.reqCollector.Unregister()
}

// NetworkAndAddr returns network type ("tcp" or "unix") and address (path to unix socket in case of "unix" network).
func (s *HTTPServer) NetworkAndAddr() (network string, addr string) {
	if s.unixSocketPath != "" {
		return networkUnix, s.unixSocketPath
	}
	return networkTCP, s.server.Addr
}

// GetPort returns the TCP port the server listens on, 0 before listening.
// It's useful when the port is chosen dynamically.
func (s *HTTPServer) GetPort() int {
	return int(s.port.Load())
}
