/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/ratelimit"
	"github.com/acronis/go-ratekit/restapi"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitErrMessage and RateLimitErrDetails are used in the body of 429 responses.
const (
	RateLimitErrMessage = "Rate limit exceeded"
	RateLimitErrDetails = "Too many requests. Please try again later."
)

// RateLimitChecker decides whether the request fits into its quota. It's implemented by ratelimit.Limiter.
type RateLimitChecker interface {
	CheckLimit(ctx context.Context, req ratelimit.Request) (allowed bool, info ratelimit.QuotaInfo)
}

// RateLimitUserIDGetterFunc returns the id of the authenticated user or an empty string.
type RateLimitUserIDGetterFunc func(r *http.Request) string

// RateLimitOnRejectFunc is called for rejecting HTTP request when the rate limit is exceeded.
// The X-RateLimit-* and Retry-After headers are already set.
type RateLimitOnRejectFunc func(rw http.ResponseWriter, r *http.Request, info ratelimit.QuotaInfo, logger log.FieldLogger)

// RateLimitResponse is the body of the response for rejected requests.
type RateLimitResponse struct {
	Error         string              `json:"error"`
	Message       string              `json:"message"`
	RateLimitInfo ratelimit.QuotaInfo `json:"rate_limit_info"`
}

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// ExcludedPaths are path prefixes that are never rate limited. ratelimit.DefaultExcludedPaths is used if nil.
	ExcludedPaths []string

	// ProtectedPaths switches the middleware to the protect-list mode when it's not nil:
	// only requests with a path matching one of the entries (exact or glob pattern) are checked.
	ProtectedPaths []string

	// GetUserID returns the id of the authenticated user. GetUserIDFromContext is used if nil.
	GetUserID RateLimitUserIDGetterFunc

	// ServiceNameHeader is the header with the name of the calling service. X-Service-Name by default.
	ServiceNameHeader string

	// DryRun makes the middleware only log rejections without blocking requests.
	DryRun bool

	OnReject RateLimitOnRejectFunc
}

type rateLimitHandler struct {
	next      http.Handler
	checker   RateLimitChecker
	opts      RateLimitOpts
	protected []func(s string) bool
}

// RateLimit is a middleware that checks every request against the quota of the matched rule.
// Rejected requests get 429 with the quota state in the body. Both allowed and rejected responses
// carry X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
func RateLimit(checker RateLimitChecker, opts RateLimitOpts) func(next http.Handler) http.Handler {
	if opts.ExcludedPaths == nil {
		opts.ExcludedPaths = ratelimit.DefaultExcludedPaths
	}
	if opts.GetUserID == nil {
		opts.GetUserID = func(r *http.Request) string { return GetUserIDFromContext(r.Context()) }
	}
	if opts.ServiceNameHeader == "" {
		opts.ServiceNameHeader = DefaultServiceNameHeader
	}
	if opts.OnReject == nil {
		opts.OnReject = DefaultRateLimitOnReject
	}
	var protected []func(s string) bool
	if opts.ProtectedPaths != nil {
		protected = make([]func(s string) bool, 0, len(opts.ProtectedPaths))
		for _, pattern := range opts.ProtectedPaths {
			protected = append(protected, glob.Compile(pattern))
		}
	}
	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{next: next, checker: checker, opts: opts, protected: protected}
	}
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !h.shouldCheck(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	req := ratelimit.Request{
		Method:       r.Method,
		Path:         r.URL.Path,
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get(headerForwardedFor),
		UserID:       h.opts.GetUserID(r),
		ServiceName:  r.Header.Get(h.opts.ServiceNameHeader),
	}
	checkStart := time.Now()
	allowed, info := h.checker.CheckLimit(r.Context(), req)
	if lp := GetLoggingParamsFromContext(r.Context()); lp != nil {
		lp.AddRateLimitDecision(info, time.Since(checkStart))
	}
	setRateLimitHeaders(rw.Header(), info)
	if allowed {
		h.next.ServeHTTP(rw, r)
		return
	}

	logger := GetLoggerFromContext(r.Context())
	if logger != nil {
		logger = logger.With(
			log.String("rate_limit_rule", info.Rule),
			log.String("rate_limit_client", info.ClientID),
			log.String("algorithm", string(info.Algorithm)),
			log.String("service_name", req.ServiceName),
		)
	}

	if h.opts.DryRun {
		if logger != nil {
			logger.Warn("rate limit exceeded, serving will be continued because of dry run mode",
				log.String("method", r.Method), log.String("path", r.URL.Path))
		}
		h.next.ServeHTTP(rw, r)
		return
	}

	if logger != nil {
		logger.Warn("rate limit exceeded", log.String("method", r.Method), log.String("path", r.URL.Path))
	}
	if info.RetryAfter > 0 {
		rw.Header().Set(HeaderRetryAfter, strconv.Itoa(info.RetryAfter))
	}
	h.opts.OnReject(rw, r, info, logger)
}

func (h *rateLimitHandler) shouldCheck(urlPath string) bool {
	if hasAnyPrefix(urlPath, h.opts.ExcludedPaths) {
		return false
	}
	if h.protected == nil {
		return true
	}
	for _, match := range h.protected {
		if match(urlPath) {
			return true
		}
	}
	return false
}

func setRateLimitHeaders(header http.Header, info ratelimit.QuotaInfo) {
	if info.Limit == 0 || info.Error != "" {
		return
	}
	header.Set(HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	header.Set(HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
	if info.ResetTime != 0 {
		header.Set(HeaderRateLimitReset, strconv.FormatInt(info.ResetTime, 10))
	}
}

// DefaultRateLimitOnReject responds with 429 and RateLimitResponse in the body.
func DefaultRateLimitOnReject(rw http.ResponseWriter, _ *http.Request, info ratelimit.QuotaInfo, logger log.FieldLogger) {
	restapi.RespondCodeAndJSON(rw, http.StatusTooManyRequests, RateLimitResponse{
		Error:         RateLimitErrMessage,
		Message:       RateLimitErrDetails,
		RateLimitInfo: info,
	}, logger)
}
