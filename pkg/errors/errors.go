package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Code so wrapped clones compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidInput        = New("invalid_input", http.StatusBadRequest, "request failed validation")
	ErrInvalidJSON         = New("invalid_json", http.StatusBadRequest, "request body is not valid JSON")
	ErrEmailTaken          = New("email_taken", http.StatusConflict, "email is already registered")
	ErrInvalidCredentials  = New("invalid_credentials", http.StatusUnauthorized, "invalid email or password")
	ErrMissingRefreshToken = New("missing_refresh_token", http.StatusUnauthorized, "refresh token is required")
	ErrInvalidRefreshToken = New("invalid_refresh_token", http.StatusUnauthorized, "refresh token is invalid")
	ErrMissingBearerToken  = New("missing_bearer_token", http.StatusUnauthorized, "bearer token is required")
	ErrInvalidToken        = New("invalid_token", http.StatusUnauthorized, "access token is invalid")
	ErrForbidden           = New("forbidden", http.StatusForbidden, "forbidden")
	ErrNotFound            = New("not_found", http.StatusNotFound, "resource not found")
	ErrRateLimited         = New("rate_limited", http.StatusTooManyRequests, "too many requests")
	ErrInternal            = New("internal_error", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Internal wraps an unexpected fault; the message stays generic on the wire.
func Internal(err error, message string) *Error {
	if message == "" {
		message = ErrInternal.Message
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
