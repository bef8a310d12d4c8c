/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratekit/internal/libinfo"
)

// MetricsCollector collects metrics of outgoing requests.
type MetricsCollector interface {
	// ObserveRequestDuration observes the duration of the finished request.
	// Status is "0" if the request failed without a response.
	ObserveRequestDuration(requestType, method, status string, duration time.Duration)
}

// PrometheusMetricsCollector is a Prometheus metrics collector for outgoing requests.
type PrometheusMetricsCollector struct {
	Durations *prometheus.HistogramVec
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_client_request_duration_seconds",
			Help:        "A histogram of the http client requests durations.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 150, 300, 600},
			ConstLabels: libinfo.AddPrometheusLibVersionLabel(nil),
		}, []string{"type", "method", "status"}),
	}
}

// MustRegister registers the Prometheus metrics.
func (p *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(p.Durations)
}

// Unregister unregisters the Prometheus metrics.
func (p *PrometheusMetricsCollector) Unregister() {
	prometheus.Unregister(p.Durations)
}

// ObserveRequestDuration implements MetricsCollector.
func (p *PrometheusMetricsCollector) ObserveRequestDuration(requestType, method, status string, duration time.Duration) {
	p.Durations.WithLabelValues(requestType, method, status).Observe(duration.Seconds())
}

// MetricsRoundTripper measures outgoing requests.
type MetricsRoundTripper struct {
	Delegate    http.RoundTripper
	RequestType string
	Collector   MetricsCollector
}

// NewMetricsRoundTripper creates an HTTP transport that measures requests.
func NewMetricsRoundTripper(delegate http.RoundTripper, requestType string, collector MetricsCollector) http.RoundTripper {
	return &MetricsRoundTripper{Delegate: delegate, RequestType: requestType, Collector: collector}
}

// RoundTrip executes the request and observes its duration.
func (rt *MetricsRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt.Collector == nil {
		return rt.Delegate.RoundTrip(r)
	}
	start := time.Now()
	resp, err := rt.Delegate.RoundTrip(r)
	status := "0"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	rt.Collector.ObserveRequestDuration(requestTypeOrDefault(r.Context(), rt.RequestType), r.Method, status, time.Since(start))
	return resp, err
}
