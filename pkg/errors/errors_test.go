package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and message",
			err:  New(ErrCodeObjectNotFound, "no such object"),
			want: "OBJECT_NOT_FOUND: no such object",
		},
		{
			name: "with component",
			err:  New(ErrCodeBackendTimeout, "deadline exceeded").WithComponent("s3"),
			want: "[s3] BACKEND_TIMEOUT: deadline exceeded",
		},
		{
			name: "with component and operation",
			err:  New(ErrCodeBackendUnavailable, "connection refused").WithComponent("s3").WithOperation("GetObject"),
			want: "[s3:GetObject] BACKEND_UNAVAILABLE: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIsMatchesOnCode(t *testing.T) {
	err := Wrap(ErrCodeObjectNotFound, "missing", stderrors.New("404"))

	if !stderrors.Is(err, New(ErrCodeObjectNotFound, "")) {
		t.Error("expected errors.Is to match on code")
	}
	if stderrors.Is(err, New(ErrCodeBackendTimeout, "")) {
		t.Error("expected errors.Is not to match a different code")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("tcp reset")
	err := Wrap(ErrCodeBackendUnavailable, "backend gone", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrCodeCacheCorruption, "bad checksum")); got != ErrCodeCacheCorruption {
		t.Errorf("CodeOf = %s, want CACHE_CORRUPTION", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != ErrCodeInternalError {
		t.Errorf("CodeOf(plain) = %s, want INTERNAL_ERROR", got)
	}

	// Codes survive fmt.Errorf %w wrapping at intermediate layers.
	wrapped := fmt.Errorf("fetching object: %w", New(ErrCodeObjectNotFound, "no such key"))
	if got := CodeOf(wrapped); got != ErrCodeObjectNotFound {
		t.Errorf("CodeOf(wrapped) = %s, want OBJECT_NOT_FOUND", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrCodeBackendTimeout) {
		t.Error("BACKEND_TIMEOUT should be retryable")
	}
	if !IsRetryable(ErrCodeBackendUnavailable) {
		t.Error("BACKEND_UNAVAILABLE should be retryable")
	}
	if IsRetryable(ErrCodeObjectNotFound) {
		t.Error("OBJECT_NOT_FOUND should not be retryable")
	}
	if IsRetryable(ErrCodeCacheCorruption) {
		t.Error("CACHE_CORRUPTION should not be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeObjectNotFound, http.StatusNotFound},
		{ErrCodeBucketNotFound, http.StatusNotFound},
		{ErrCodeAccessDenied, http.StatusForbidden},
		{ErrCodeBackendTimeout, http.StatusGatewayTimeout},
		{ErrCodeBackendUnavailable, http.StatusBadGateway},
		{ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeBackendUnavailable, CategoryBackend},
		{ErrCodeObjectNotFound, CategoryBackend},
		{ErrCodeCacheCorruption, CategoryCache},
		{ErrCodePrefetchFailed, CategoryCache},
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").Category; got != tt.want {
			t.Errorf("category of %s = %s, want %s", tt.code, got, tt.want)
		}
	}
}
