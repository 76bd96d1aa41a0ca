package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes.
const (
	ErrConfiguration   = "CONFIGURATION_ERROR"
	ErrTransport       = "TRANSPORT_ERROR"
	ErrNotFound        = "NOT_FOUND"
	ErrServer          = "SERVER_ERROR"
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrValidationError = "VALIDATION_ERROR"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternalError   = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard error value used across the module and the
// error body returned by the BFF. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	// Status is the backend HTTP status that produced the error, if any.
	Status int `json:"status,omitempty"`
	cause  error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// Retryable reports whether retrying the same request may succeed.
func (e *ErrorEnvelope) Retryable() bool {
	switch e.Code {
	case ErrTransport, ErrServer, ErrRateLimited:
		return true
	}
	return false
}

// WithCause returns a copy of e wrapping cause.
func (e *ErrorEnvelope) WithCause(cause error) *ErrorEnvelope {
	cp := *e
	cp.cause = cause
	return &cp
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewConfigurationError returns a CONFIGURATION_ERROR. It signals a
// programming mistake and is never retried.
func NewConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: msg}
}

// NewTransportError returns a TRANSPORT_ERROR wrapping the network failure.
func NewTransportError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTransport,
		Message: "The backend service could not be reached",
		cause:   cause,
	}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg, Status: http.StatusNotFound}
}

// NewServerError returns a SERVER_ERROR for a 5xx status or a malformed payload.
func NewServerError(status int, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrServer, Message: msg, Status: status}
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more query parameters are invalid",
		Details: details,
	}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// ErrorFromStatus classifies a non-2xx backend status.
func ErrorFromStatus(status int, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = http.StatusText(status)
	}
	var ee *ErrorEnvelope
	switch {
	case status == http.StatusNotFound:
		ee = NewNotFoundError(msg)
	case status == http.StatusUnauthorized:
		ee = NewUnauthorizedError(msg)
	case status == http.StatusForbidden:
		ee = NewForbiddenError(msg)
	case status == http.StatusTooManyRequests:
		ee = NewRateLimitedError()
	case status >= 500:
		ee = NewServerError(status, msg)
	default:
		ee = NewBadRequestError(msg)
	}
	ee.Status = status
	return ee
}

// AsEnvelope extracts an *ErrorEnvelope from err's chain. Errors that carry
// no envelope are reported as INTERNAL_ERROR wrapping the original.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return NewInternalError().WithCause(err)
}

// IsCode reports whether err carries an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && ee.Code == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrNotFound)
}
