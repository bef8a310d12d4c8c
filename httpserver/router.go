/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/restapi"
)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	// Routes registers the application endpoints.
	Routes          func(router chi.Router)
	RootMiddlewares []func(http.Handler) http.Handler
	ErrorDomain     string
	HealthCheck     HealthCheck
	// Backend, if set, is reported by the health-check endpoint.
	Backend        func() string
	MetricsHandler http.Handler
}

// NewRouter creates a new chi.Router and performs its basic configuration.
func NewRouter(logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()
	configureRouter(router, logger, opts)
	return router
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func configureRouter(router chi.Router, logger log.FieldLogger, opts RouterOpts) {
	router.Use(opts.RootMiddlewares...)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck).WithBackend(opts.Backend))

	if opts.Routes != nil {
		opts.Routes(router)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, logger)
	})
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func applyDefaultMiddlewaresToRouter(
	router chi.Router, cfg *Config, logger log.FieldLogger, opts Opts, promMetrics *middleware.HTTPRequestMetricsCollector,
) {
	router.Use(middleware.RequestID())

	loggingOpts := middleware.LoggingOpts{
		RequestStart:           cfg.Log.RequestStart,
		RequestHeaders:         make(map[string]string, len(cfg.Log.RequestHeaders)),
		ExcludedEndpoints:      cfg.Log.ExcludedEndpoints,
		SecretQueryParams:      cfg.Log.SecretQueryParams,
		AddRequestInfoToLogger: cfg.Log.AddRequestInfoToLogger,
		SlowRequestThreshold:   time.Duration(cfg.Log.SlowRequestThreshold),
		ServiceNameHeader:      cfg.ServiceNameHeader,
	}
	for _, headerName := range cfg.Log.RequestHeaders {
		logFieldKey := "req_header_" + strings.ToLower(strings.ReplaceAll(headerName, "-", "_"))
		loggingOpts.RequestHeaders[headerName] = logFieldKey
	}
	router.Use(middleware.LoggingWithOpts(logger, loggingOpts))

	router.Use(middleware.Recovery(opts.ErrorDomain))

	router.Use(middleware.RequestMetrics(opts.RequestRecorder, middleware.RequestMetricsOpts{Collector: promMetrics}))

	// Rejected requests pass through the metrics middleware, so they affect the adaptive limits.
	if opts.RateLimiter != nil {
		rateLimitOpts := opts.RateLimit
		if rateLimitOpts.ServiceNameHeader == "" {
			rateLimitOpts.ServiceNameHeader = cfg.ServiceNameHeader
		}
		router.Use(middleware.RateLimit(opts.RateLimiter, rateLimitOpts))
	}
}
