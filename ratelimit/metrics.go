/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelRule      = "rule"
	metricsLabelAlgorithm = "algorithm"
	metricsLabelDecision  = "decision"
)

// Decisions reported in metrics.
const (
	DecisionAllowed    = "allowed"
	DecisionRejected   = "rejected"
	DecisionBlocked    = "blocked"
	DecisionFailedOpen = "failed_open"
)

// MetricsCollector collects metrics of rate limiting decisions.
type MetricsCollector interface {
	IncDecisions(rule string, alg Algorithm, decision string)
	SetAdaptiveLimit(rule string, limit int)
	IncStoreErrors(rule string)
}

// PrometheusMetrics represents Prometheus metrics of rate limiting.
type PrometheusMetrics struct {
	Decisions     *prometheus.CounterVec
	AdaptiveLimit *prometheus.GaugeVec
	StoreErrors   *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Number of rate limiting decisions.",
		}, []string{metricsLabelRule, metricsLabelAlgorithm, metricsLabelDecision}),
		AdaptiveLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_adaptive_limit",
			Help:      "Current limit derived by the adaptive algorithm.",
		}, []string{metricsLabelRule}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_store_errors_total",
			Help:      "Number of rate limit checks failed due to key-value store errors.",
		}, []string{metricsLabelRule}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Decisions, pm.AdaptiveLimit, pm.StoreErrors)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Decisions)
	prometheus.Unregister(pm.AdaptiveLimit)
	prometheus.Unregister(pm.StoreErrors)
}

// IncDecisions increments the number of decisions.
func (pm *PrometheusMetrics) IncDecisions(rule string, alg Algorithm, decision string) {
	pm.Decisions.With(prometheus.Labels{
		metricsLabelRule:      rule,
		metricsLabelAlgorithm: string(alg),
		metricsLabelDecision:  decision,
	}).Inc()
}

// SetAdaptiveLimit sets the current adaptive limit of the rule.
func (pm *PrometheusMetrics) SetAdaptiveLimit(rule string, limit int) {
	pm.AdaptiveLimit.With(prometheus.Labels{metricsLabelRule: rule}).Set(float64(limit))
}

// IncStoreErrors increments the number of store errors.
func (pm *PrometheusMetrics) IncStoreErrors(rule string) {
	pm.StoreErrors.With(prometheus.Labels{metricsLabelRule: rule}).Inc()
}

func decisionOf(allowed bool, info QuotaInfo) string {
	switch {
	case info.Error != "":
		return DecisionFailedOpen
	case info.Blocked:
		return DecisionBlocked
	case allowed:
		return DecisionAllowed
	default:
		return DecisionRejected
	}
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(string, Algorithm, string) {}
func (disabledMetrics) SetAdaptiveLimit(string, int)           {}
func (disabledMetrics) IncStoreErrors(string)                  {}
