package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// S3API is the subset of the AWS S3 client the backend uses, so tests can
// substitute a mock.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config describes the upstream bucket for S3Backend
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	MaxPayloadSize  int64
}

// S3Backend stores blobs in an Amazon S3 bucket via the AWS SDK for Go v2.
// Credentials fall back to the default AWS chain when none are configured.
type S3Backend struct {
	bucket     string
	prefix     string
	maxPayload int64
	client     S3API
}

// NewS3Backend loads AWS configuration and verifies the bucket is reachable
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("cannot access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 backend initialized", "bucket", cfg.Bucket, "region", cfg.Region, "prefix", cfg.Prefix)
	return NewS3BackendWithClient(cfg, client)
}

// NewS3BackendWithClient builds a backend around an existing client
func NewS3BackendWithClient(cfg S3Config, client S3API) (*S3Backend, error) {
	if cfg.MaxPayloadSize <= 0 {
		return nil, fmt.Errorf("s3: max payload size must be positive")
	}
	return &S3Backend{
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxPayload: cfg.MaxPayloadSize,
		client:     client,
	}, nil
}

// MaxPayloadSize implements Backend.
func (b *S3Backend) MaxPayloadSize() int64 {
	return b.maxPayload
}

// Put implements Backend.
func (b *S3Backend) Put(ctx context.Context, payload []byte, displayName string) (Handle, error) {
	ctx, span := tracer.Start(ctx, "s3.put",
		trace.WithAttributes(
			attribute.String("display_name", displayName),
			attribute.Int("size_bytes", len(payload)),
		),
	)
	defer span.End()

	if err := checkPayload("put", payload, b.maxPayload); err != nil {
		span.RecordError(err)
		return "", err
	}

	key := b.prefix + objectKey(displayName)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		span.RecordError(err)
		return "", classifyS3("put", "", err)
	}
	return Handle(key), nil
}

// Get implements Backend.
func (b *S3Backend) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "s3.get",
		trace.WithAttributes(attribute.String("object_key", string(h))),
	)
	defer span.End()

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil {
		span.RecordError(err)
		return nil, classifyS3("get", h, err)
	}
	return resp.Body, nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, h Handle) error {
	ctx, span := tracer.Start(ctx, "s3.delete",
		trace.WithAttributes(attribute.String("object_key", string(h))),
	)
	defer span.End()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil {
		span.RecordError(err)
		return classifyS3("delete", h, err)
	}
	return nil
}

func classifyS3(op string, h Handle, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return permanent(op, h, fmt.Errorf("%w: %v", ErrBlobNotFound, err))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return permanent(op, h, fmt.Errorf("%w: %v", ErrBlobNotFound, err))
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return transient(op, h, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return transient(op, h, err)
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= 500 || status == 429 {
			return transient(op, h, err)
		}
		if status == 404 {
			return permanent(op, h, fmt.Errorf("%w: %v", ErrBlobNotFound, err))
		}
		return permanent(op, h, err)
	}

	if isNetworkError(err) {
		return transient(op, h, err)
	}
	return permanent(op, h, err)
}

var _ Backend = (*S3Backend)(nil)
