package apiclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the review API, or a failure to reach it.
// Message carries the server's own wording so callers can match on it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

const defaultErrorMessage = "Request failed"

var ErrUnavailable = &APIError{Status: http.StatusServiceUnavailable, Message: "Service temporarily unavailable"}

// errorFromBody extracts `error`, then `details`, from a JSON error body.
func errorFromBody(status int, body []byte) *APIError {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	msg := defaultErrorMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		if s := rawText(payload.Error); s != "" {
			msg = s
		} else if s := rawText(payload.Details); s != "" {
			msg = s
		}
	}
	return &APIError{Status: status, Message: msg}
}

// rawText renders a JSON string as-is and any other JSON value verbatim.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the user-relevant message carried by err.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
