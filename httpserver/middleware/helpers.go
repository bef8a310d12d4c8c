/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

var timeNow = time.Now

// WrapResponseWriter is a proxy around http.ResponseWriter that allows to get the status code and the number of written bytes.
type WrapResponseWriter = chimw.WrapResponseWriter

// RoutePatternGetterFunc is a function for getting route pattern from the request. Used in multiple middlewares.
type RoutePatternGetterFunc func(r *http.Request) string

// GetChiRoutePattern returns the pattern of the chi route that matches the request.
// If routing is not finished yet, the pattern is resolved by matching the request against the routes tree.
// It returns an empty string if the request is not served by chi.
func GetChiRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	if rctx.Routes == nil {
		return ""
	}

	routePath := r.URL.RawPath
	if routePath == "" {
		routePath = r.URL.Path
	}
	tctx := chi.NewRouteContext()
	if !rctx.Routes.Match(tctx, r.Method, routePath) {
		return ""
	}
	return tctx.RoutePattern()
}

// WrapResponseWriterIfNeeded wraps an http.ResponseWriter (if it is not already wrapped), returning a proxy that allows you to
// hook into various parts of the response process.
func WrapResponseWriterIfNeeded(rw http.ResponseWriter, protoMajor int) WrapResponseWriter {
	if wrw, ok := rw.(WrapResponseWriter); ok {
		return wrw
	}
	return chimw.NewWrapResponseWriter(rw, protoMajor)
}
