/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-ratekit/internal/libinfo"
	"github.com/acronis/go-ratekit/log"
)

// DefaultRequestType is used in logs and metrics if the request type is not specified.
const DefaultRequestType = "external"

// Opts provides options for NewWithOpts.
type Opts struct {
	// UserAgent is appended to the User-Agent of outgoing requests. libinfo.UserAgent() is used if empty.
	UserAgent string

	// RequestType is used in logs and metrics, e.g. "scraper". DefaultRequestType is used if empty.
	RequestType string

	// Delegate is the innermost RoundTripper. A clone of http.DefaultTransport is used if nil.
	Delegate http.RoundTripper

	// LoggerProvider returns a context-specific logger. middleware.GetLoggerFromContext is used if nil.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider returns the request id to propagate. middleware.GetRequestIDFromContext is used if nil.
	RequestIDProvider func(ctx context.Context) string

	// MetricsCollector receives request durations when metrics are enabled in the config.
	MetricsCollector MetricsCollector
}

// New creates a new HTTP client.
func New(cfg *Config) *http.Client {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new HTTP client with request id propagation, User-Agent,
// and, depending on the configuration, logging and metrics round trippers.
func NewWithOpts(cfg *Config, opts Opts) *http.Client {
	if opts.RequestType == "" {
		opts.RequestType = DefaultRequestType
	}
	if opts.UserAgent == "" {
		opts.UserAgent = libinfo.UserAgent()
	}
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}

	if cfg.Log.Enabled {
		logOpts := cfg.Log.TransportOpts()
		logOpts.LoggerProvider = opts.LoggerProvider
		delegate = NewLoggingRoundTripperWithOpts(delegate, opts.RequestType, logOpts)
	}
	if cfg.Metrics.Enabled && opts.MetricsCollector != nil {
		delegate = NewMetricsRoundTripper(delegate, opts.RequestType, opts.MetricsCollector)
	}
	delegate = NewUserAgentRoundTripper(delegate, opts.UserAgent, UserAgentUpdateStrategyAppend)
	delegate = NewRequestIDRoundTripper(delegate, opts.RequestIDProvider)

	return &http.Client{Transport: delegate, Timeout: time.Duration(cfg.Timeout)}
}
