// Package httperr defines the error taxonomy the HTTP layer exposes to
// clients. Every failure is shaped into one JSON envelope; internal details
// stay in the wrapped cause and never leak beyond the message text.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error class in responses.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	CodeUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// Error is a classified error with an HTTP status.
type Error struct {
	Message    string
	Code       Code
	StatusCode int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation builds a 400 error from one or more human-readable messages.
func Validation(msg string) *Error {
	return &Error{Message: msg, Code: CodeValidation, StatusCode: http.StatusBadRequest}
}

// Configuration marks missing or invalid startup configuration. It carries a
// 500 status for completeness, but callers treat it as fatal before serving.
func Configuration(msg string) *Error {
	return &Error{Message: msg, Code: CodeConfiguration, StatusCode: http.StatusInternalServerError}
}

// Unavailable marks the agent runtime as not ready (503).
func Unavailable(msg string, cause error) *Error {
	return &Error{Message: msg, Code: CodeUnavailable, StatusCode: http.StatusServiceUnavailable, cause: cause}
}

// Internal wraps an unclassified failure (500).
func Internal(msg string, cause error) *Error {
	return &Error{Message: msg, Code: CodeInternal, StatusCode: http.StatusInternalServerError, cause: cause}
}

// From classifies an arbitrary error. Already-classified errors pass through;
// anything else becomes an internal error whose message keeps the cause text.
func From(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	return Internal(fmt.Sprintf("failed to process chat request: %v", err), err)
}

// Body is the wire shape of a single error.
type Body struct {
	Message    string    `json:"message"`
	Code       Code      `json:"code"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
}

// Envelope is the failure response wrapper.
type Envelope struct {
	Success bool `json:"success"`
	Error   Body `json:"error"`
}

// Response shapes the error for the wire.
func (e *Error) Response(now time.Time) Envelope {
	return Envelope{
		Success: false,
		Error: Body{
			Message:    e.Error(),
			Code:       e.Code,
			StatusCode: e.StatusCode,
			Timestamp:  now,
		},
	}
}
