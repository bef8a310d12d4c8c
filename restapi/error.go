/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"strings"
)

// Error is the payload of an error response, it's wrapped into ErrorResponseData on the wire.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes used by the service. Codes for other statuses are derived from the status text.
const (
	ErrCodeInternal           = "internalError"
	ErrCodeNotFound           = "notFound"
	ErrCodeMethodNotAllowed   = "methodNotAllowed"
	ErrCodeBadRequest         = "badRequest"
	ErrCodeConflict           = "conflict"
	ErrCodeTooManyRequests    = "tooManyRequests"
	ErrCodeServiceUnavailable = "serviceUnavailable"
)

// Error messages.
const (
	ErrMessageInternal         = "Internal error."
	ErrMessageNotFound         = "Not found."
	ErrMessageMethodNotAllowed = "Method not allowed."
)

// NewError creates a new Error.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewErrorFromHTTPCode creates a new Error with the code derived from the HTTP status (e.g. 503 -> "serviceUnavailable").
func NewErrorFromHTTPCode(domain string, httpCode int, message string) *Error {
	return NewError(domain, errorCodeFromStatus(httpCode), message)
}

// WithContext sets a context value shown to the client (e.g. the id of the conflicting scraping source).
func (e *Error) WithContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[field] = value
	return e
}

// errorCodeFromStatus makes a lower camel case code from the status text. Unknown statuses and 500 give ErrCodeInternal.
func errorCodeFromStatus(status int) string {
	words := strings.Fields(http.StatusText(status))
	if status == http.StatusInternalServerError || len(words) == 0 {
		return ErrCodeInternal
	}
	var code strings.Builder
	for i, word := range words {
		word = strings.ToLower(word)
		if i > 0 {
			word = strings.ToUpper(word[:1]) + word[1:]
		}
		code.WriteString(word)
	}
	return code.String()
}
