/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import "github.com/prometheus/client_golang/prometheus"

// responseErrors is nil until MustInitAndRegisterMetrics is called, errors are not counted then.
var responseErrors *prometheus.CounterVec

// MustInitAndRegisterMetrics registers the counter of error responses labeled by error domain and code.
func MustInitAndRegisterMetrics(namespace string) {
	responseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "restapi",
		Name:      "response_errors_total",
		Help:      "Number of error responses by error domain and code.",
	}, []string{"domain", "code"})
	prometheus.MustRegister(responseErrors)
}

// UnregisterMetrics unregisters the counter registered by MustInitAndRegisterMetrics.
func UnregisterMetrics() {
	if responseErrors != nil {
		prometheus.Unregister(responseErrors)
	}
}

func countResponseError(err *Error) {
	if responseErrors != nil {
		responseErrors.WithLabelValues(err.Domain, err.Code).Inc()
	}
}
