/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/log"
)

// LoggingMode represents a mode of logging.
type LoggingMode string

// Logging modes.
const (
	LoggingModeNone   LoggingMode = "none"
	LoggingModeAll    LoggingMode = "all"
	LoggingModeFailed LoggingMode = "failed"
)

// IsValid checks if the logging mode is valid.
func (lm LoggingMode) IsValid() bool {
	switch lm {
	case LoggingModeNone, LoggingModeAll, LoggingModeFailed:
		return true
	}
	return false
}

// LoggingRoundTripper logs outgoing requests.
type LoggingRoundTripper struct {
	Delegate    http.RoundTripper
	RequestType string
	Opts        LoggingRoundTripperOpts
}

// LoggingRoundTripperOpts represents an options for LoggingRoundTripper.
type LoggingRoundTripperOpts struct {
	// LoggerProvider returns a context-specific logger. middleware.GetLoggerFromContext is used by default.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// Mode of logging. LoggingModeAll is used if empty.
	Mode LoggingMode

	// SlowRequestThreshold raises the level of successful requests that take longer to warn.
	SlowRequestThreshold time.Duration
}

// NewLoggingRoundTripper creates an HTTP transport that logs requests.
func NewLoggingRoundTripper(delegate http.RoundTripper, requestType string) http.RoundTripper {
	return NewLoggingRoundTripperWithOpts(delegate, requestType, LoggingRoundTripperOpts{})
}

// NewLoggingRoundTripperWithOpts creates an HTTP transport that logs requests with options.
func NewLoggingRoundTripperWithOpts(delegate http.RoundTripper, requestType string, opts LoggingRoundTripperOpts) http.RoundTripper {
	if opts.Mode == "" {
		opts.Mode = LoggingModeAll
	}
	if opts.LoggerProvider == nil {
		opts.LoggerProvider = middleware.GetLoggerFromContext
	}
	return &LoggingRoundTripper{Delegate: delegate, RequestType: requestType, Opts: opts}
}

// RoundTrip executes the request and logs its result.
func (rt *LoggingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt.Opts.Mode == LoggingModeNone {
		return rt.Delegate.RoundTrip(r)
	}
	ctx := r.Context()
	logger := rt.Opts.LoggerProvider(ctx)
	if logger == nil {
		return rt.Delegate.RoundTrip(r)
	}

	start := time.Now()
	resp, err := rt.Delegate.RoundTrip(r)
	elapsed := time.Since(start)

	failed := err != nil || resp.StatusCode >= http.StatusBadRequest
	slow := rt.Opts.SlowRequestThreshold > 0 && elapsed >= rt.Opts.SlowRequestThreshold
	if rt.Opts.Mode == LoggingModeFailed && !failed && !slow {
		return resp, err
	}

	requestType := requestTypeOrDefault(ctx, rt.RequestType)
	fields := []log.Field{
		log.String("method", r.Method),
		log.String("uri", r.URL.Redacted()),
		log.String("request_type", requestType),
		log.DurationIn(elapsed, time.Millisecond),
	}
	level := log.LevelInfo
	switch {
	case err != nil:
		level = log.LevelError
		fields = append(fields, log.Error(err))
	case resp.StatusCode >= http.StatusInternalServerError:
		level = log.LevelError
		fields = append(fields, log.Int("status", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest || slow:
		level = log.LevelWarn
		fields = append(fields, log.Int("status", resp.StatusCode))
	default:
		fields = append(fields, log.Int("status", resp.StatusCode))
	}
	logger.AtLevel(level, func(logFunc log.LogFunc) {
		logFunc("client http request is done", fields...)
	})

	if loggingParams := middleware.GetLoggingParamsFromContext(ctx); loggingParams != nil {
		loggingParams.AddTimeSlotDurationInMs("external_request_"+requestType+"_ms", elapsed)
	}
	return resp, err
}
