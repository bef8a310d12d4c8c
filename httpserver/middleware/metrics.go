/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratekit/monitoring"
)

const (
	httpRequestMetricsLabelMethod        = "method"
	httpRequestMetricsLabelRoutePattern  = "route_pattern"
	httpRequestMetricsLabelUserAgentType = "user_agent_type"
	httpRequestMetricsLabelStatusCode    = "status_code"
)

const (
	userAgentTypeBrowser    = "browser"
	userAgentTypeHTTPClient = "http-client"
)

// DefaultHTTPRequestDurationBuckets is default buckets into which observations of serving HTTP requests are counted.
var DefaultHTTPRequestDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// DefaultRequestMetricsExcludedPaths are path prefixes that are neither recorded nor observed.
var DefaultRequestMetricsExcludedPaths = []string{"/health", "/metrics", "/docs", "/redoc", "/openapi.json"}

// RequestRecorder accumulates served requests. It's implemented by monitoring.Collector
// which feeds the adaptive rate limiting.
type RequestRecorder interface {
	IncActiveRequests()
	DecActiveRequests()
	RecordRequest(sample monitoring.RequestSample)
}

// HTTPRequestMetricsCollectorOpts represents an options for HTTPRequestMetricsCollector.
type HTTPRequestMetricsCollectorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets into which observations of serving HTTP requests are counted.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// HTTPRequestMetricsCollector represents Prometheus collector of metrics for incoming HTTP requests.
type HTTPRequestMetricsCollector struct {
	Durations *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec
}

// NewHTTPRequestMetricsCollector creates a new metrics collector.
func NewHTTPRequestMetricsCollector() *HTTPRequestMetricsCollector {
	return NewHTTPRequestMetricsCollectorWithOpts(HTTPRequestMetricsCollectorOpts{})
}

// NewHTTPRequestMetricsCollectorWithOpts is a more configurable version of creating HTTPRequestMetricsCollector.
func NewHTTPRequestMetricsCollectorWithOpts(opts HTTPRequestMetricsCollectorOpts) *HTTPRequestMetricsCollector {
	durBuckets := opts.DurationBuckets
	if durBuckets == nil {
		durBuckets = DefaultHTTPRequestDurationBuckets
	}
	return &HTTPRequestMetricsCollector{
		Durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   opts.Namespace,
				Name:        "http_request_duration_seconds",
				Help:        "A histogram of the HTTP request durations.",
				Buckets:     durBuckets,
				ConstLabels: opts.ConstLabels,
			},
			[]string{
				httpRequestMetricsLabelMethod,
				httpRequestMetricsLabelRoutePattern,
				httpRequestMetricsLabelUserAgentType,
				httpRequestMetricsLabelStatusCode,
			},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   opts.Namespace,
				Name:        "http_requests_in_flight",
				Help:        "Current number of HTTP requests being served.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{httpRequestMetricsLabelMethod, httpRequestMetricsLabelUserAgentType},
		),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *HTTPRequestMetricsCollector) MustRegister() {
	prometheus.MustRegister(c.Durations, c.InFlight)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *HTTPRequestMetricsCollector) Unregister() {
	prometheus.Unregister(c.InFlight)
	prometheus.Unregister(c.Durations)
}

// RequestMetricsOpts represents an options for RequestMetrics middleware.
type RequestMetricsOpts struct {
	// Collector observes request durations in Prometheus. Optional.
	Collector *HTTPRequestMetricsCollector

	// GetRoutePattern is used for the route_pattern label. GetChiRoutePattern is used if nil.
	GetRoutePattern RoutePatternGetterFunc

	// ExcludedPaths are path prefixes that are skipped. DefaultRequestMetricsExcludedPaths is used if nil.
	ExcludedPaths []string
}

type requestMetricsHandler struct {
	next     http.Handler
	recorder RequestRecorder
	opts     RequestMetricsOpts
}

// RequestMetrics is a middleware that records every served request (method, path, status and duration)
// into the recorder and, if the collector is set, into Prometheus.
// A panic in the next handler is recorded as 500 and propagated further.
func RequestMetrics(recorder RequestRecorder, opts RequestMetricsOpts) func(next http.Handler) http.Handler {
	if opts.GetRoutePattern == nil {
		opts.GetRoutePattern = GetChiRoutePattern
	}
	if opts.ExcludedPaths == nil {
		opts.ExcludedPaths = DefaultRequestMetricsExcludedPaths
	}
	return func(next http.Handler) http.Handler {
		return &requestMetricsHandler{next: next, recorder: recorder, opts: opts}
	}
}

func (h *requestMetricsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if hasAnyPrefix(r.URL.Path, h.opts.ExcludedPaths) {
		h.next.ServeHTTP(rw, r)
		return
	}

	startTime := GetRequestStartTimeFromContext(r.Context())
	if startTime.IsZero() {
		startTime = timeNow()
		r = r.WithContext(NewContextWithRequestStartTime(r.Context(), startTime))
	}
	uaType := determineUserAgentType(r)

	if h.recorder != nil {
		h.recorder.IncActiveRequests()
		defer h.recorder.DecActiveRequests()
	}
	if h.opts.Collector != nil {
		inFlight := h.opts.Collector.InFlight.With(prometheus.Labels{
			httpRequestMetricsLabelMethod:        r.Method,
			httpRequestMetricsLabelUserAgentType: uaType,
		})
		inFlight.Inc()
		defer inFlight.Dec()
	}

	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	defer func() {
		status := wrw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		p := recover()
		if p != nil {
			if p == http.ErrAbortHandler { //nolint:errorlint,goerr113
				panic(p)
			}
			status = http.StatusInternalServerError
		}
		h.track(r, uaType, status, timeNow().Sub(startTime))
		if p != nil {
			panic(p)
		}
	}()

	h.next.ServeHTTP(wrw, r)
}

func (h *requestMetricsHandler) track(r *http.Request, uaType string, status int, duration time.Duration) {
	if h.recorder != nil {
		h.recorder.RecordRequest(monitoring.RequestSample{
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: status,
			Duration:   duration,
		})
	}
	if h.opts.Collector != nil {
		h.opts.Collector.Durations.With(prometheus.Labels{
			httpRequestMetricsLabelMethod:        r.Method,
			httpRequestMetricsLabelRoutePattern:  h.opts.GetRoutePattern(r),
			httpRequestMetricsLabelUserAgentType: uaType,
			httpRequestMetricsLabelStatusCode:    strconv.Itoa(status),
		}).Observe(duration.Seconds())
	}
}

func determineUserAgentType(r *http.Request) string {
	if strings.Contains(strings.ToLower(r.UserAgent()), "mozilla") {
		return userAgentTypeBrowser
	}
	return userAgentTypeHTTPClient
}

func hasAnyPrefix(urlPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(urlPath, prefix) {
			return true
		}
	}
	return false
}
