// Package errors provides the structured error system for robocache
// with error codes, categories, and propagation hints.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a failure class.
type ErrorCode string

const (
	// Backend errors. These propagate to the caller unchanged; the
	// sidecar never masks backend-reported outcomes.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeObjectNotFound     ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound     ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeAccessDenied       ErrorCode = "ACCESS_DENIED"

	// Cache errors. Never surfaced to callers; recovered locally.
	ErrCodeCacheCorruption   ErrorCode = "CACHE_CORRUPTION"
	ErrCodeCapacityExhausted ErrorCode = "CAPACITY_EXHAUSTED"
	ErrCodePrefetchFailed    ErrorCode = "PREFETCH_FAILED"

	// Configuration and state errors.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups codes for metrics labels and logging.
type ErrorCategory string

const (
	CategoryBackend       ErrorCategory = "backend"
	CategoryCache         ErrorCategory = "cache"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error with a code, category, and cause.
type Error struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Component string        `json:"component,omitempty"`
	Operation string        `json:"operation,omitempty"`
	Cause     error         `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches on error code so callers can compare against sentinel
// New(code, ...) values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a structured error for the given code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error with an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithComponent sets the originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the originating operation.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// CodeOf extracts the error code, unwrapping as needed, or
// INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// IsRetryable reports whether an operation failing with this code may
// be retried against the backend.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeBackendTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the status returned by the proxy.
// Backend-reported outcomes keep their conventional statuses.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeObjectNotFound, ErrCodeBucketNotFound:
		return http.StatusNotFound
	case ErrCodeAccessDenied:
		return http.StatusForbidden
	case ErrCodeBackendTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeInvalidState:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func categoryOf(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeBackendTimeout,
		ErrCodeObjectNotFound, ErrCodeBucketNotFound, ErrCodeAccessDenied:
		return CategoryBackend
	case ErrCodeCacheCorruption, ErrCodeCapacityExhausted, ErrCodePrefetchFailed:
		return CategoryCache
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}
