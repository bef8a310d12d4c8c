/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acronis/go-ratekit/log"
)

// ContentTypeAppJSON represents MIME media type for JSON.
const ContentTypeAppJSON = "application/json"

// ErrorResponseData is the body of an error response: {"error": {"domain": ..., "code": ..., "message": ...}}.
// The client returns it (wrapped into ClientError) for error responses of other services.
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (d *ErrorResponseData) Error() string {
	if d.Err == nil {
		return "error response without details"
	}
	return fmt.Sprintf("%s error %q: %s", d.Err.Domain, d.Err.Code, d.Err.Message)
}

// RespondJSON writes data as JSON with 200 status code.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON writes data as JSON (HTML characters are not escaped) with the status code.
// Content-Type is set unless the handler has already set it. Nil data means an empty body.
// If data can't be encoded, 500 is written without a body.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(respData); err != nil {
		logIfPossible(logger, "failed to encode response body", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}
	rw.WriteHeader(statusCode)
	if _, err := rw.Write(bytes.TrimSuffix(body.Bytes(), []byte("\n"))); err != nil {
		logIfPossible(logger, "failed to write response body", err)
	}
}

// RespondError writes the error response and counts it in the response errors metric.
// It's logged at the error level for 5xx statuses and at the warn level otherwise.
func RespondError(rw http.ResponseWriter, httpStatusCode int, err *Error, logger log.FieldLogger) {
	countResponseError(err)
	if logger != nil {
		level := log.LevelWarn
		if httpStatusCode >= http.StatusInternalServerError {
			level = log.LevelError
		}
		logger.AtLevel(level, func(logFn log.LogFunc) {
			fields := []log.Field{
				log.Int("status", httpStatusCode),
				log.String("error_domain", err.Domain),
				log.String("error_code", err.Code),
				log.String("error_message", err.Message),
			}
			for key, val := range err.Context {
				fields = append(fields, log.String("error_context_"+key, fmt.Sprint(val)))
			}
			logFn("error in response", fields...)
		})
	}
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{Err: err}, logger)
}

// RespondInternalError writes 500 with the internal error of the domain.
func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusInternalServerError, NewError(domain, ErrCodeInternal, ErrMessageInternal), logger)
}

// RespondBadRequestError writes 400, the message is shown to the client as is.
func RespondBadRequestError(rw http.ResponseWriter, domain, message string, logger log.FieldLogger) {
	RespondError(rw, http.StatusBadRequest, NewError(domain, ErrCodeBadRequest, message), logger)
}

func logIfPossible(logger log.FieldLogger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, log.Error(err))
	}
}
