/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/log/logtest"
)

const testDomain = "RateKit"

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (rw *failingWriter) Write(_ []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func requireErrorResponse(t *testing.T, resp *httptest.ResponseRecorder, wantStatusCode int, wantCode string) {
	t.Helper()
	require.Equal(t, wantStatusCode, resp.Code)
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.NotNil(t, respData.Err)
	require.Equal(t, testDomain, respData.Err.Domain)
	require.Equal(t, wantCode, respData.Err.Code)
}

func TestRespondCodeAndJSON(t *testing.T) {
	type lockStatus struct {
		Name   string `json:"name"`
		Locked bool   `json:"locked"`
	}

	t.Run("encodes data", func(t *testing.T) {
		resp := httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondCodeAndJSON(resp, http.StatusAccepted, lockStatus{"scraping_task:all", true}, logger)
		require.Equal(t, http.StatusAccepted, resp.Code)
		require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
		require.Equal(t, `{"name":"scraping_task:all","locked":true}`, resp.Body.String())
		require.Empty(t, logger.Entries())
	})

	t.Run("html is not escaped", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondJSON(resp, map[string]string{"path": "/api/v1/scrape?source_id=1&force=<true>"}, nil)
		require.Equal(t, `{"path":"/api/v1/scrape?source_id=1&force=<true>"}`, resp.Body.String())
	})

	t.Run("content type set by handler is kept", func(t *testing.T) {
		resp := httptest.NewRecorder()
		resp.Header().Set("Content-Type", "application/problem+json")
		RespondJSON(resp, lockStatus{Name: "a"}, nil)
		require.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
	})

	t.Run("nil data", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondCodeAndJSON(resp, http.StatusNoContent, nil, nil)
		require.Equal(t, http.StatusNoContent, resp.Code)
		require.Empty(t, resp.Body.String())
	})

	t.Run("encoding error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondJSON(resp, make(chan bool), logger)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		require.Empty(t, resp.Body.String())
		entry, found := logger.FindEntry("failed to encode response body")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
	})

	t.Run("write error", func(t *testing.T) {
		resp := &failingWriter{httptest.NewRecorder()}
		logger := logtest.NewRecorder()
		RespondJSON(resp, lockStatus{Name: "a"}, logger)
		_, found := logger.FindEntry("failed to write response body")
		require.True(t, found)
	})
}

func TestRespondError(t *testing.T) {
	MustInitAndRegisterMetrics("ratekit_test")
	defer UnregisterMetrics()

	tests := []struct {
		name       string
		statusCode int
		code       string
		wantLevel  log.Level
	}{
		{"conflict is a warning", http.StatusConflict, ErrCodeConflict, log.LevelWarn},
		{"rate limited is a warning", http.StatusTooManyRequests, ErrCodeTooManyRequests, log.LevelWarn},
		{"unavailable is an error", http.StatusServiceUnavailable, ErrCodeServiceUnavailable, log.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			logger := logtest.NewRecorder()
			apiErr := NewError(testDomain, tt.code, "Scraping is not possible now.").WithContext("source_id", 15)

			RespondError(resp, tt.statusCode, apiErr, logger)

			requireErrorResponse(t, resp, tt.statusCode, tt.code)
			entry, found := logger.FindEntry("error in response")
			require.True(t, found)
			require.Equal(t, tt.wantLevel, entry.Level)
			field, found := entry.FindField("error_code")
			require.True(t, found)
			require.Equal(t, tt.code, string(field.Bytes))
			field, found = entry.FindField("error_context_source_id")
			require.True(t, found)
			require.Equal(t, "15", string(field.Bytes))
			require.Equal(t, 1.0, promtest.ToFloat64(responseErrors.WithLabelValues(testDomain, tt.code)))
		})
	}
}

func TestRespondInternalError(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondInternalError(resp, testDomain, nil)
	requireErrorResponse(t, resp, http.StatusInternalServerError, ErrCodeInternal)
}

func TestRespondBadRequestError(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondBadRequestError(resp, testDomain, "source_id is required", nil)
	requireErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)

	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.Equal(t, `RateKit error "badRequest": source_id is required`, respData.Error())
	require.Equal(t, "error response without details", (&ErrorResponseData{}).Error())
}
