// Package files is the chunked storage engine: it splits uploads into
// bounded-size blobs, tracks them in the metadata store and streams them back.
//
// A file is either fully present or fully absent. Uploads reserve a record,
// write chunks strictly in order and finalize; any failure rolls the partial
// upload back before the call returns.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maneesh/chunkvault/internal/metadata"
	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/models"
	"github.com/maneesh/chunkvault/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chunkvault-files")

// RetryPolicy bounds the exponential backoff applied to transient blob failures
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options tune a Service
type Options struct {
	// MaxChunkSize is the largest blob the engine writes. It must not exceed
	// the backend's MaxPayloadSize.
	MaxChunkSize int64
	Retry        RetryPolicy
	// ReadAhead is how many chunks a download may fetch ahead of the
	// consumer. Zero streams chunks strictly one after another.
	ReadAhead int
	Now       func() time.Time
	Logger    *slog.Logger
}

// Service exposes upload, download, delete and list over a blob backend and
// a metadata store. It is safe for concurrent use.
type Service struct {
	blobs storage.Backend
	store metadata.Store
	opts  Options
	log   *slog.Logger
}

// New validates opts and builds a Service
func New(blobs storage.Backend, store metadata.Store, opts Options) (*Service, error) {
	if opts.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d", opts.MaxChunkSize)
	}
	if limit := blobs.MaxPayloadSize(); opts.MaxChunkSize > limit {
		return nil, fmt.Errorf("max chunk size %d exceeds backend payload limit %d", opts.MaxChunkSize, limit)
	}
	if opts.ReadAhead < 0 {
		return nil, fmt.Errorf("read-ahead must not be negative, got %d", opts.ReadAhead)
	}
	if opts.Retry.InitialInterval <= 0 {
		opts.Retry.InitialInterval = 200 * time.Millisecond
	}
	if opts.Retry.MaxInterval < opts.Retry.InitialInterval {
		opts.Retry.MaxInterval = opts.Retry.InitialInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		blobs: blobs,
		store: store,
		opts:  opts,
		log:   log.With("component", "files"),
	}, nil
}

// GetFile returns the descriptor of a file owned by ownerID
func (s *Service) GetFile(ctx context.Context, id, ownerID string) (desc models.FileDescriptor, err error) {
	ctx, span := tracer.Start(ctx, "get_file", trace.WithAttributes(attribute.String("file_id", id)))
	defer func() { endSpan(span, err) }()

	rec, err := s.lookup(ctx, id, ownerID)
	if err != nil {
		return models.FileDescriptor{}, err
	}
	return rec.Descriptor(), nil
}

// ListFiles returns the owner's files, newest first
func (s *Service) ListFiles(ctx context.Context, ownerID string) (_ []models.FileDescriptor, err error) {
	ctx, span := tracer.Start(ctx, "list_files")
	defer func() { endSpan(span, err) }()
	defer observe("list", time.Now(), &err)

	recs, err := s.store.ListFileRecords(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	out := make([]models.FileDescriptor, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Descriptor())
	}
	span.SetAttributes(attribute.Int("file_count", len(out)))
	return out, nil
}

// lookup loads a visible record owned by ownerID. Every miss, including an
// ownership mismatch, comes back as ErrNotFound.
func (s *Service) lookup(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	rec, err := s.store.GetFileRecord(ctx, id, ownerID)
	if errors.Is(err, metadata.ErrNotFound) || errors.Is(err, metadata.ErrNotOwned) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", id, err)
	}
	return rec, nil
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func observe(op string, start time.Time, err *error) {
	metrics.OperationsTotal.WithLabelValues(op, metrics.Status(*err)).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	span.End()
}
