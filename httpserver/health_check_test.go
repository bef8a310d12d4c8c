/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/log/logtest"
	"github.com/acronis/go-ratekit/restapi"
)

func makeHealthCheckRequest(ctx context.Context) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(ctx)
	return req.WithContext(middleware.NewContextWithLogger(req.Context(), log.NewDisabledLogger()))
}

func decodeHealthCheckResponse(t *testing.T, resp *httptest.ResponseRecorder) healthCheckResponseData {
	t.Helper()
	require.Equal(t, restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	var respData healthCheckResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&respData))
	return respData
}

func TestHealthCheckHandler_ServeHTTP(t *testing.T) {
	t.Run("health-check returns error", func(t *testing.T) {
		h := NewHealthCheckHandler(func(context.Context) (HealthCheckResult, error) {
			return nil, fmt.Errorf("internal error")
		})
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusInternalServerError, resp.Code)
	})

	t.Run("health-check with empty components", func(t *testing.T) {
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(nil).ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusOK, resp.Code)
		require.Empty(t, decodeHealthCheckResponse(t, resp).Components)
	})

	t.Run("health-check returns unhealthy components", func(t *testing.T) {
		h := NewHealthCheckHandler(func(context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{"kvstore": HealthCheckStatusFail, "scheduler": HealthCheckStatusOK}, nil
		})
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.Equal(t, map[string]bool{"kvstore": false, "scheduler": true}, decodeHealthCheckResponse(t, resp).Components)
	})

	t.Run("client closed request", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(nil).ServeHTTP(resp, makeHealthCheckRequest(ctx))
		require.Equal(t, StatusClientClosedRequest, resp.Code)
	})
}

func TestStoreHealthCheck(t *testing.T) {
	memory, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{})
	require.NoError(t, err)

	t.Run("redis is available", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = client.Close() }()
		adapter := kvstore.NewAdapter(client, memory, nil)

		resp := httptest.NewRecorder()
		NewHealthCheckHandler(NewStoreHealthCheck(adapter, logtest.NewRecorder())).WithBackend(adapter.Backend).
			ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusOK, resp.Code)
		respData := decodeHealthCheckResponse(t, resp)
		require.Equal(t, map[string]bool{HealthCheckComponentKVStore: true}, respData.Components)
		require.Equal(t, kvstore.BackendRedis, respData.Backend)
	})

	t.Run("redis is lost", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer func() { _ = client.Close() }()
		adapter := kvstore.NewAdapter(client, memory, nil)
		mr.Close()

		logger := logtest.NewRecorder()
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(NewStoreHealthCheck(adapter, logger)).ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.Equal(t, map[string]bool{HealthCheckComponentKVStore: false}, decodeHealthCheckResponse(t, resp).Components)
		require.Equal(t, 1, logger.CountEntries("key-value store health check failed"))
	})

	t.Run("in-memory fallback is healthy", func(t *testing.T) {
		adapter := kvstore.NewAdapter(nil, memory, nil)
		logger := logtest.NewRecorder()
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(NewStoreHealthCheck(adapter, logger)).WithBackend(adapter.Backend).
			ServeHTTP(resp, makeHealthCheckRequest(context.Background()))
		require.Equal(t, http.StatusOK, resp.Code)
		respData := decodeHealthCheckResponse(t, resp)
		require.Equal(t, map[string]bool{HealthCheckComponentKVStore: true}, respData.Components)
		require.Equal(t, kvstore.BackendMemory, respData.Backend)
		require.Equal(t, 1, logger.CountEntries("key-value store works in degraded mode"))
	})
}
