package s3

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/robocache/robocache/pkg/errors"
)

func testClient() *Client {
	return &Client{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestMapErrorNoSuchKey(t *testing.T) {
	c := testClient()
	err := c.mapError("GetObject", "robots", "ep01/pose.json", &s3types.NoSuchKey{})

	if errors.CodeOf(err) != errors.ErrCodeObjectNotFound {
		t.Errorf("expected OBJECT_NOT_FOUND, got %v", err)
	}
}

func TestMapErrorNoSuchBucket(t *testing.T) {
	c := testClient()
	err := c.mapError("GetObject", "missing", "k", &s3types.NoSuchBucket{})

	if errors.CodeOf(err) != errors.ErrCodeBucketNotFound {
		t.Errorf("expected BUCKET_NOT_FOUND, got %v", err)
	}
}

func TestMapErrorDeadline(t *testing.T) {
	c := testClient()
	err := c.mapError("GetObject", "b", "k", context.DeadlineExceeded)

	if errors.CodeOf(err) != errors.ErrCodeBackendTimeout {
		t.Errorf("expected BACKEND_TIMEOUT, got %v", err)
	}
}

func TestMapErrorGenericAPIError(t *testing.T) {
	c := testClient()

	tests := []struct {
		apiCode string
		want    errors.ErrorCode
	}{
		{"NoSuchKey", errors.ErrCodeObjectNotFound},
		{"NoSuchBucket", errors.ErrCodeBucketNotFound},
		{"AccessDenied", errors.ErrCodeAccessDenied},
		{"RequestTimeout", errors.ErrCodeBackendTimeout},
		{"SlowDown", errors.ErrCodeBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.apiCode, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.apiCode, Message: "x"}
			err := c.mapError("GetObject", "b", "k", apiErr)
			if errors.CodeOf(err) != tt.want {
				t.Errorf("mapError(%s) = %v, want %s", tt.apiCode, err, tt.want)
			}
		})
	}
}

func TestMapErrorPreservesCause(t *testing.T) {
	c := testClient()
	cause := stderrors.New("connection reset")
	err := c.mapError("PutObject", "b", "k", cause)

	if !stderrors.Is(err, cause) {
		t.Error("mapped error should preserve the underlying cause")
	}
	if errors.CodeOf(err) != errors.ErrCodeBackendUnavailable {
		t.Errorf("expected BACKEND_UNAVAILABLE fallback, got %v", err)
	}
}
