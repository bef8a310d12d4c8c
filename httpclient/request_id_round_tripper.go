/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"

	"github.com/acronis/go-ratekit/httpserver/middleware"
)

const headerRequestID = "X-Request-ID"

// RequestIDRoundTripper propagates the id of the incoming request in the X-Request-ID header.
type RequestIDRoundTripper struct {
	Delegate          http.RoundTripper
	RequestIDProvider func(ctx context.Context) string
}

// NewRequestIDRoundTripper creates an HTTP transport with X-Request-ID header support.
// The id is taken from the context (middleware.GetRequestIDFromContext) if provider is nil.
func NewRequestIDRoundTripper(delegate http.RoundTripper, provider func(ctx context.Context) string) http.RoundTripper {
	if provider == nil {
		provider = middleware.GetRequestIDFromContext
	}
	return &RequestIDRoundTripper{Delegate: delegate, RequestIDProvider: provider}
}

// RoundTrip sets X-Request-ID header if it's not set yet.
func (rt *RequestIDRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get(headerRequestID) != "" {
		return rt.Delegate.RoundTrip(r)
	}
	requestID := rt.RequestIDProvider(r.Context())
	if requestID == "" {
		return rt.Delegate.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set(headerRequestID, requestID)
	return rt.Delegate.RoundTrip(r)
}
