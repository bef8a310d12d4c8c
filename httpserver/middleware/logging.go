/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-ratekit/log"
)

const (
	// LoggingSecretQueryPlaceholder replaces values of secret query parameters in logged URIs.
	LoggingSecretQueryPlaceholder = "_HIDDEN_"

	// DefaultServiceNameHeader is the header that identifies the calling service.
	DefaultServiceNameHeader = "X-Service-Name"

	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	// RequestStart enables the "request started" line in addition to the "response completed" one.
	RequestStart bool

	// RequestHeaders maps names of request headers to the log keys of their values.
	RequestHeaders map[string]string

	// ExcludedEndpoints are logged only if the response status is 4xx or 5xx.
	ExcludedEndpoints []string

	SecretQueryParams []string

	// AddRequestInfoToLogger makes the logger in the request context carry the request fields (method, uri, etc.).
	AddRequestInfoToLogger bool

	// SlowRequestThreshold marks slower requests with "slow_request" and adds "time_slots" to their line. 1s by default.
	SlowRequestThreshold time.Duration

	// ServiceNameHeader carries the name of the calling service. X-Service-Name by default.
	ServiceNameHeader string
}

type loggingHandler struct {
	next   http.Handler
	logger log.FieldLogger
	opts   LoggingOpts
}

// Logging is a middleware that logs every request with the response status and duration.
// It puts a logger with request ids and LoggingParams into the request context.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a more configurable version of Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	if opts.SlowRequestThreshold == 0 {
		opts.SlowRequestThreshold = time.Second
	}
	if opts.ServiceNameHeader == "" {
		opts.ServiceNameHeader = DefaultServiceNameHeader
	}
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := GetRequestStartTimeFromContext(ctx)
	if startTime.IsZero() {
		startTime = time.Now()
		ctx = NewContextWithRequestStartTime(ctx, startTime)
	}

	ctxLogger := h.logger.With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
	)
	logger := ctxLogger.With(h.requestFields(r)...)
	if h.opts.AddRequestInfoToLogger {
		ctxLogger = logger
	}

	excluded := slices.Contains(h.opts.ExcludedEndpoints, r.URL.Path)
	if h.opts.RequestStart && !excluded {
		logger.Info("request started")
	}

	lp := &LoggingParams{}
	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	h.next.ServeHTTP(wrw, r.WithContext(NewContextWithLoggingParams(NewContextWithLogger(ctx, ctxLogger), lp)))

	status := wrw.Status()
	if excluded && status < http.StatusBadRequest {
		return
	}
	duration := time.Since(startTime)
	slow := duration >= h.opts.SlowRequestThreshold
	fields := append([]log.Field{
		log.Int64("duration_ms", duration.Milliseconds()),
		log.Int("status", status),
		log.Int("bytes_sent", wrw.BytesWritten()),
	}, lp.logFields(slow)...)
	if slow {
		fields = append(fields, log.Bool("slow_request", true))
	}
	logCompletion(logger, status, fmt.Sprintf("response completed in %.3fs", duration.Seconds()), fields)
}

func (h *loggingHandler) requestFields(r *http.Request) []log.Field {
	fields := []log.Field{
		log.String("method", r.Method),
		log.String("uri", h.uriToLog(r)),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("content_length", r.ContentLength),
		log.String("user_agent", r.UserAgent()),
	}
	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		fields = append(fields, log.String("remote_addr_ip", host))
		if portNum, pErr := strconv.ParseUint(port, 10, 16); pErr == nil {
			fields = append(fields, log.Uint16("remote_addr_port", uint16(portNum)))
		}
	}
	if originAddr := getOriginAddr(r); originAddr != "" {
		fields = append(fields, log.String("origin_addr", originAddr))
	}
	if serviceName := r.Header.Get(h.opts.ServiceNameHeader); serviceName != "" {
		fields = append(fields, log.String("service_name", serviceName))
	}
	for headerName, logKey := range h.opts.RequestHeaders {
		fields = append(fields, log.String(logKey, r.Header.Get(headerName)))
	}
	return fields
}

// logCompletion chooses the level by the response status: 5xx are errors, 4xx (including 429) are warnings.
func logCompletion(logger log.FieldLogger, status int, msg string, fields []log.Field) {
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(msg, fields...)
	case status >= http.StatusBadRequest:
		logger.Warn(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}

func (h *loggingHandler) uriToLog(r *http.Request) string {
	if len(h.opts.SecretQueryParams) == 0 || r.URL.RawQuery == "" {
		return r.RequestURI
	}
	query := r.URL.Query()
	for _, param := range h.opts.SecretQueryParams {
		for i, val := range query[param] {
			if val != "" {
				query[param][i] = LoggingSecretQueryPlaceholder
			}
		}
	}
	return r.URL.Path + "?" + query.Encode()
}

// getOriginAddr returns the first address of X-Forwarded-For or X-Real-IP.
func getOriginAddr(r *http.Request) string {
	if forwardedFor := r.Header.Get(headerForwardedFor); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(r.Header.Get(headerRealIP))
}
