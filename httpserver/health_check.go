/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// HealthCheckComponentName is a type alias for component names. It's used for better readability.
type HealthCheckComponentName = string

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckComponentKVStore is the name of the key-value store component in the health-check response.
const HealthCheckComponentKVStore HealthCheckComponentName = "kvstore"

// HealthCheckResult is a type alias for result of health-check operation. It's used for better readability.
type HealthCheckResult = map[HealthCheckComponentName]HealthCheckStatus

// HealthCheck is a type alias for health-check operation that has access to the request Context.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

// StoreHealthChecker checks the availability of the key-value store. It's implemented by kvstore.Adapter.
type StoreHealthChecker interface {
	CheckHealth(ctx context.Context) error
	Backend() string
}

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
	Backend    string          `json:"backend,omitempty"`
}

// NewStoreHealthCheck returns a HealthCheck that reports the key-value store component.
// The in-process fallback keeps the service functional, so kvstore.ErrDegraded is reported as healthy.
func NewStoreHealthCheck(store StoreHealthChecker, logger log.FieldLogger) HealthCheck {
	return func(ctx context.Context) (HealthCheckResult, error) {
		status := HealthCheckStatusOK
		if err := store.CheckHealth(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, kvstore.ErrDegraded) {
				logger.Warn("key-value store works in degraded mode", log.String("backend", store.Backend()))
			} else {
				logger.Error("key-value store health check failed", log.Error(err))
				status = HealthCheckStatusFail
			}
		}
		return HealthCheckResult{HealthCheckComponentKVStore: status}, nil
	}
}

// HealthCheckHandler implements http.Handler and does health-check of a service.
type HealthCheckHandler struct {
	healthCheckFn HealthCheck
	backend       func() string
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
// Passing function will be called inside handler and should return statuses of service's components.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{healthCheckFn: fn}
}

// WithBackend makes the handler report the name of the key-value store backend in use.
func (h *HealthCheckHandler) WithBackend(backend func() string) *HealthCheckHandler {
	h.backend = backend
	return h
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	hcResult, err := h.healthCheckFn(r.Context())
	if err != nil {
		if logger != nil {
			logger.Error("error while checking health", log.Error(err))
		}
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	hasUnhealthyComponent := false
	respData := healthCheckResponseData{Components: make(map[string]bool, len(hcResult))}
	for name, status := range hcResult {
		respData.Components[name] = status == HealthCheckStatusOK
		if status == HealthCheckStatusFail {
			hasUnhealthyComponent = true
		}
	}
	if h.backend != nil {
		respData.Backend = h.backend()
	}

	if errors.Is(r.Context().Err(), context.Canceled) {
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}

	respStatus := http.StatusOK
	if hasUnhealthyComponent {
		respStatus = http.StatusServiceUnavailable
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}
