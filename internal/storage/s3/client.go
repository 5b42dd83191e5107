package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/robocache/robocache/pkg/errors"
	"github.com/robocache/robocache/pkg/retry"
	"github.com/robocache/robocache/pkg/types"
)

// Config represents backend client configuration.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Client is the backend object-store client.
type Client struct {
	api     *s3.Client
	config  Config
	retryer *retry.Retryer
	logger  *slog.Logger
}

var _ types.Backend = (*Client)(nil)

// NewClient creates a backend client for an S3-compatible endpoint.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to load AWS config", err).
			WithComponent("s3")
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		api:     api,
		config:  cfg,
		retryer: retry.New(retry.Config{MaxAttempts: cfg.MaxRetries}),
		logger:  logger,
	}, nil
}

// GetObject fetches the full object body.
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, *types.ObjectInfo, error) {
	var data []byte
	var info *types.ObjectInfo

	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		out, err := c.api.GetObject(opCtx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return c.mapError("GetObject", bucket, key, err)
		}
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeBackendUnavailable, "failed to read object body", err).
				WithComponent("s3").WithOperation("GetObject")
		}

		data = body
		info = &types.ObjectInfo{
			Bucket:      bucket,
			Key:         key,
			Size:        int64(len(body)),
			ETag:        aws.ToString(out.ETag),
			ContentType: aws.ToString(out.ContentType),
		}
		if out.LastModified != nil {
			info.LastModified = *out.LastModified
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// PutObject writes the full object body.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (*types.ObjectInfo, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.api.PutObject(opCtx, input)
	if err != nil {
		return nil, c.mapError("PutObject", bucket, key, err)
	}

	return &types.ObjectInfo{
		Bucket: bucket,
		Key:    key,
		Size:   int64(len(data)),
		ETag:   aws.ToString(out.ETag),
	}, nil
}

// HeadObject returns object metadata without the body.
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*types.ObjectInfo, error) {
	var info *types.ObjectInfo

	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		out, err := c.api.HeadObject(opCtx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return c.mapError("HeadObject", bucket, key, err)
		}

		info = &types.ObjectInfo{
			Bucket:      bucket,
			Key:         key,
			Size:        aws.ToInt64(out.ContentLength),
			ETag:        aws.ToString(out.ETag),
			ContentType: aws.ToString(out.ContentType),
		}
		if out.LastModified != nil {
			info.LastModified = *out.LastModified
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ListObjects lists up to limit objects under prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]types.ObjectInfo, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if limit > 0 && limit <= 1000 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	out, err := c.api.ListObjectsV2(opCtx, input)
	if err != nil {
		return nil, c.mapError("ListObjects", bucket, prefix, err)
	}

	infos := make([]types.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		info := types.ObjectInfo{
			Bucket: bucket,
			Key:    aws.ToString(obj.Key),
			Size:   aws.ToInt64(obj.Size),
			ETag:   aws.ToString(obj.ETag),
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// HealthCheck verifies the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.api.ListBuckets(opCtx, &s3.ListBucketsInput{})
	if err != nil {
		return c.mapError("HealthCheck", "", "", err)
	}
	return nil
}

// mapError translates SDK failures into the structured taxonomy so
// callers can classify without depending on the AWS SDK.
func (c *Client) mapError(op, bucket, key string, err error) error {
	var (
		noSuchKey    *s3types.NoSuchKey
		noSuchBucket *s3types.NoSuchBucket
		notFound     *s3types.NotFound
	)

	switch {
	case stderrors.As(err, &noSuchKey), stderrors.As(err, &notFound):
		return errors.Wrap(errors.ErrCodeObjectNotFound, bucket+"/"+key, err).
			WithComponent("s3").WithOperation(op)
	case stderrors.As(err, &noSuchBucket):
		return errors.Wrap(errors.ErrCodeBucketNotFound, bucket, err).
			WithComponent("s3").WithOperation(op)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeBackendTimeout, "backend request timed out", err).
			WithComponent("s3").WithOperation(op)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errors.Wrap(errors.ErrCodeObjectNotFound, bucket+"/"+key, err).
				WithComponent("s3").WithOperation(op)
		case "NoSuchBucket":
			return errors.Wrap(errors.ErrCodeBucketNotFound, bucket, err).
				WithComponent("s3").WithOperation(op)
		case "AccessDenied":
			return errors.Wrap(errors.ErrCodeAccessDenied, "access denied", err).
				WithComponent("s3").WithOperation(op)
		case "RequestTimeout":
			return errors.Wrap(errors.ErrCodeBackendTimeout, "backend request timed out", err).
				WithComponent("s3").WithOperation(op)
		}
	}

	c.logger.Debug("backend request failed", "op", op, "bucket", bucket, "key", key, "err", err)
	return errors.Wrap(errors.ErrCodeBackendUnavailable, "backend request failed", err).
		WithComponent("s3").WithOperation(op)
}
