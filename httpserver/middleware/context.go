/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/acronis/go-ratekit/log"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyLoggingParams
	ctxKeyRequestStartTime
	ctxKeyUserID
)

// valueFromContext returns the zero value of T if the key is missing.
func valueFromContext[T any](ctx context.Context, key ctxKey) T {
	value, _ := ctx.Value(key).(T)
	return value
}

// NewContextWithRequestID creates a new context with the external request id (X-Request-ID).
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts the external request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	return valueFromContext[string](ctx, ctxKeyRequestID)
}

// NewContextWithInternalRequestID creates a new context with the request id generated by the service.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext extracts the internal request id from the context.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	return valueFromContext[string](ctx, ctxKeyInternalRequestID)
}

// NewContextWithLogger creates a new context with the request logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts the request logger from the context, nil if the Logging middleware isn't used.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	return valueFromContext[log.FieldLogger](ctx, ctxKeyLogger)
}

// NewContextWithLoggingParams creates a new context with logging params.
func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return context.WithValue(ctx, ctxKeyLoggingParams, loggingParams)
}

// GetLoggingParamsFromContext extracts logging params from the context, nil if the Logging middleware isn't used.
func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	return valueFromContext[*LoggingParams](ctx, ctxKeyLoggingParams)
}

// NewContextWithRequestStartTime creates a new context with the time the request was received.
func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyRequestStartTime, startTime)
}

// GetRequestStartTimeFromContext extracts the request start time from the context.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	return valueFromContext[time.Time](ctx, ctxKeyRequestStartTime)
}

// NewContextWithUserID creates a new context with the id of the authenticated user.
// It's supposed to be called by the authentication layer before the RateLimit middleware.
func NewContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// GetUserIDFromContext extracts the id of the authenticated user from the context.
// Empty string is returned for anonymous requests.
func GetUserIDFromContext(ctx context.Context) string {
	return valueFromContext[string](ctx, ctxKeyUserID)
}
