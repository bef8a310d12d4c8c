/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/acronis/go-ratekit/log"
)

// maxErrorBodySnippet bounds the part of a non-JSON error body kept in the error message.
const maxErrorBodySnippet = 255

// NewJSONRequest creates a POST, PUT or PATCH request bound to ctx with data encoded as the JSON body.
func NewJSONRequest(ctx context.Context, method, url string, data interface{}) (*http.Request, error) {
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return nil, fmt.Errorf("method %s can't have a JSON body", method)
	}
	if data == nil {
		return nil, fmt.Errorf("data cannot be nil")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeAppJSON)
	return req, nil
}

// DoRequestAndUnmarshalJSON sends the request and decodes a 2xx JSON response into result (if it's not nil).
// Every failure is returned as *ClientError. For 4xx/5xx responses it wraps *ErrorResponseData
// decoded from the body, or built from the status if the body isn't a JSON error.
func DoRequestAndUnmarshalJSON(client *http.Client, req *http.Request, result interface{}, logger log.FieldLogger) error {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	logger = logger.With(log.String("method", req.Method), log.String("uri", req.URL.String()))
	clientErr := &ClientError{Method: req.Method, URL: req.URL}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("http request failed", log.Error(err))
		clientErr.Message, clientErr.Err = "request failed", err
		return clientErr
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close response body", log.Error(closeErr))
		}
	}()
	clientErr.StatusCode = resp.StatusCode
	logger.AtLevel(log.LevelDebug, func(logFn log.LogFunc) {
		logFn("got response", log.Int("status", resp.StatusCode))
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		clientErr.Message, clientErr.Err = "failed to read response body", err
		return clientErr
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if result == nil {
			return nil
		}
		if len(body) == 0 {
			clientErr.Message = "empty response"
			return clientErr
		}
		if err = json.Unmarshal(body, result); err != nil {
			clientErr.Message, clientErr.Err = "failed to unmarshal response", err
			return clientErr
		}
		return nil
	case resp.StatusCode >= 400:
		clientErr.Message, clientErr.Err = "error response", decodeErrorResponse(resp, body)
		return clientErr
	default:
		clientErr.Message = "unexpected status code"
		return clientErr
	}
}

func decodeErrorResponse(resp *http.Response, body []byte) *ErrorResponseData {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == ContentTypeAppJSON {
		var respData ErrorResponseData
		if err := json.Unmarshal(body, &respData); err == nil && respData.Err != nil {
			return &respData
		}
	}
	if len(body) > maxErrorBodySnippet {
		body = body[:maxErrorBodySnippet]
	}
	return &ErrorResponseData{Err: NewErrorFromHTTPCode("", resp.StatusCode, string(body))}
}
