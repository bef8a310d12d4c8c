/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelSource = "source"
	metricsLabelResult = "result"
)

// Run results reported in metrics.
const (
	RunResultSuccess  = "success"
	RunResultFailure  = "failure"
	RunResultCanceled = "canceled"
	RunResultSkipped  = "skipped"
)

// MetricsCollector collects metrics of scraping runs.
type MetricsCollector interface {
	IncRuns(source, result string)
	ObserveRunDuration(source string, d time.Duration)
	SetRunning(source string, running bool)
}

// PrometheusMetrics represents Prometheus metrics of scraping runs.
type PrometheusMetrics struct {
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	Running     *prometheus.GaugeVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraping_runs_total",
			Help:      "Number of scraping runs by result.",
		}, []string{metricsLabelSource, metricsLabelResult}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scraping_run_duration_seconds",
			Help:      "Duration of scraping runs including retries.",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		}, []string{metricsLabelSource}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scraping_running",
			Help:      "1 if a scraping run for the source is in progress in this process.",
		}, []string{metricsLabelSource}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Runs, pm.RunDuration, pm.Running)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Runs)
	prometheus.Unregister(pm.RunDuration)
	prometheus.Unregister(pm.Running)
}

// IncRuns increments the number of finished runs.
func (pm *PrometheusMetrics) IncRuns(source, result string) {
	pm.Runs.With(prometheus.Labels{metricsLabelSource: source, metricsLabelResult: result}).Inc()
}

// ObserveRunDuration observes the duration of a run.
func (pm *PrometheusMetrics) ObserveRunDuration(source string, d time.Duration) {
	pm.RunDuration.With(prometheus.Labels{metricsLabelSource: source}).Observe(d.Seconds())
}

// SetRunning sets whether the run for the source is in progress.
func (pm *PrometheusMetrics) SetRunning(source string, running bool) {
	var v float64
	if running {
		v = 1
	}
	pm.Running.With(prometheus.Labels{metricsLabelSource: source}).Set(v)
}

type disabledMetrics struct{}

func (disabledMetrics) IncRuns(string, string)                   {}
func (disabledMetrics) ObserveRunDuration(string, time.Duration) {}
func (disabledMetrics) SetRunning(string, bool)                  {}
