package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioConfig describes how to reach a MinIO (or any S3-compatible) server
type MinioConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	BucketName     string
	UseSSL         bool
	MaxPayloadSize int64
}

// MinioBackend stores blobs as objects in a MinIO bucket
type MinioBackend struct {
	client     *minio.Client
	bucketName string
	maxPayload int64
}

// NewMinioBackend initializes a MinIO client and makes sure the bucket exists
func NewMinioBackend(ctx context.Context, cfg MinioConfig) (*MinioBackend, error) {
	if cfg.MaxPayloadSize <= 0 {
		return nil, fmt.Errorf("minio: max payload size must be positive")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		slog.Info("creating bucket", "bucket", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioBackend{
		client:     client,
		bucketName: cfg.BucketName,
		maxPayload: cfg.MaxPayloadSize,
	}, nil
}

// MaxPayloadSize implements Backend.
func (mb *MinioBackend) MaxPayloadSize() int64 {
	return mb.maxPayload
}

// Put uploads one payload as a new object
func (mb *MinioBackend) Put(ctx context.Context, payload []byte, displayName string) (Handle, error) {
	ctx, span := tracer.Start(ctx, "minio.put",
		trace.WithAttributes(
			attribute.String("display_name", displayName),
			attribute.Int("size_bytes", len(payload)),
		),
	)
	defer span.End()

	if err := checkPayload("put", payload, mb.maxPayload); err != nil {
		span.RecordError(err)
		return "", err
	}

	key := objectKey(displayName)
	_, err := mb.client.PutObject(ctx, mb.bucketName, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return "", classifyMinio("put", "", err)
	}

	span.SetAttributes(attribute.String("object_key", key))
	return Handle(key), nil
}

// Get opens an object for reading
func (mb *MinioBackend) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.get",
		trace.WithAttributes(
			attribute.String("object_key", string(h)),
		),
	)
	defer span.End()

	object, err := mb.client.GetObject(ctx, mb.bucketName, string(h), minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, classifyMinio("get", h, err)
	}

	// GetObject is lazy; Stat surfaces missing objects before the caller
	// starts streaming.
	if _, err := object.Stat(); err != nil {
		object.Close()
		span.RecordError(err)
		return nil, classifyMinio("get", h, err)
	}

	return object, nil
}

// Delete removes an object
func (mb *MinioBackend) Delete(ctx context.Context, h Handle) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(
			attribute.String("object_key", string(h)),
		),
	)
	defer span.End()

	err := mb.client.RemoveObject(ctx, mb.bucketName, string(h), minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return classifyMinio("delete", h, err)
	}
	return nil
}

func classifyMinio(op string, h Handle, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return permanent(op, h, fmt.Errorf("%w: %v", ErrBlobNotFound, err))
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return transient(op, h, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return transient(op, h, err)
	}
	if isNetworkError(err) {
		return transient(op, h, err)
	}
	return permanent(op, h, err)
}

// isNetworkError covers failures where the request never got a response
func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
