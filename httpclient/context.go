/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import "context"

type ctxKey int

const ctxKeyRequestType ctxKey = iota

// NewContextWithRequestType creates a new context with request type.
// The type overrides the one configured in the round trippers, e.g. "scrape" for the scraper service calls.
func NewContextWithRequestType(ctx context.Context, requestType string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestType, requestType)
}

// GetRequestTypeFromContext extracts request type from the context.
func GetRequestTypeFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ctxKeyRequestType).(string)
	return value
}

func requestTypeOrDefault(ctx context.Context, defaultType string) string {
	if reqType := GetRequestTypeFromContext(ctx); reqType != "" {
		return reqType
	}
	return defaultType
}
