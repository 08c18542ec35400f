// Package apierr defines the broker's structured HTTP error envelope.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Error types, matching the taxonomy in the broker's error handling design.
const (
	TypeClientInput       = "client_input"
	TypeDeviceUnavailable = "device_unavailable"
	TypeNotFound          = "not_found"
	TypeInternal          = "internal"
)

// Error is a structured API error. It implements error so handlers can
// return it through normal Go error-handling plumbing before the HTTP layer
// renders it.
type Error struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// ClientInput builds a 400 client-input error.
func ClientInput(code, message string) *Error {
	return &Error{Status: http.StatusBadRequest, Type: TypeClientInput, Code: code, Message: message}
}

// DeviceUnavailable builds a 503 device-unavailable error.
func DeviceUnavailable(code, message string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Type: TypeDeviceUnavailable, Code: code, Message: message}
}

// NotFound builds a 404 not-found error.
func NotFound(code, message string) *Error {
	return &Error{Status: http.StatusNotFound, Type: TypeNotFound, Code: code, Message: message}
}

// Internal builds a 500 internal error.
func Internal(code, message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Type: TypeInternal, Code: code, Message: message}
}

// envelope is the wire shape: {"error": {...}}.
type envelope struct {
	ErrorBody Error `json:"error"`
}

// Write renders err as the structured JSON envelope with its status code.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(envelope{ErrorBody: *err})
}
