/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ClientError is returned by DoRequestAndUnmarshalJSON when the request fails or the response isn't successful.
// StatusCode is zero if no response was received.
type ClientError struct {
	Method     string
	URL        *url.URL
	StatusCode int
	Message    string
	Err        error
}

func (e *ClientError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" responded %d", e.StatusCode)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error (*ErrorResponseData for error responses).
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed:
// transport failures, 429 and 5xx responses are retryable, other statuses are not.
func (e *ClientError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// APIError returns the error decoded from the response body, nil if the body had none.
func (e *ClientError) APIError() *Error {
	var respData *ErrorResponseData
	if errors.As(e.Err, &respData) {
		return respData.Err
	}
	return nil
}
