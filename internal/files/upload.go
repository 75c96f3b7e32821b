package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/chunkvault/internal/chunker"
	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/models"
	"github.com/maneesh/chunkvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadFile stores size bytes read from r under a new file id.
//
// The record is reserved before any blob is written. Files larger than
// MaxChunkSize are split and every chunk is stored and recorded before the
// next one is read. On any failure, including a short, long or broken
// stream, everything written so far is removed and the original error is
// returned.
func (s *Service) UploadFile(ctx context.Context, r io.Reader, size int64, name, contentType, ownerID string) (desc models.FileDescriptor, err error) {
	ctx, span := tracer.Start(ctx, "upload_file", trace.WithAttributes(
		attribute.String("file_name", name),
		attribute.Int64("file_size", size),
	))
	defer func() { endSpan(span, err) }()
	defer observe("upload", time.Now(), &err)

	if size <= 0 {
		return models.FileDescriptor{}, chunker.ErrEmptyInput
	}

	rec := &models.FileRecord{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   s.now(),
		Chunked:     chunker.ShouldChunk(size, s.opts.MaxChunkSize),
		TotalChunks: chunker.ChunkCount(size, s.opts.MaxChunkSize),
	}
	span.SetAttributes(
		attribute.String("file_id", rec.ID),
		attribute.Bool("chunked", rec.Chunked),
		attribute.Int("total_chunks", rec.TotalChunks),
	)

	// Step 1: reserve the record
	if err := s.store.CreateFileRecord(ctx, rec); err != nil {
		return models.FileDescriptor{}, fmt.Errorf("failed to reserve file record: %w", err)
	}
	s.log.DebugContext(ctx, "upload started",
		"file_id", rec.ID,
		"size", size,
		"chunked", rec.Chunked,
		"total_chunks", rec.TotalChunks,
	)

	// Step 2: store every chunk in order
	stored, err := s.storeChunks(ctx, rec, r)
	if err != nil {
		s.rollback(ctx, rec, stored, err)
		return models.FileDescriptor{}, err
	}

	// Step 3: finalize
	rec.BlobHandle = string(stored[0])
	if err := s.store.UpdateFileRecord(ctx, rec); err != nil {
		err = fmt.Errorf("failed to finalize file %s: %w", rec.ID, err)
		s.rollback(ctx, rec, stored, err)
		return models.FileDescriptor{}, err
	}

	metrics.BytesUploadedTotal.Add(float64(size))
	s.log.InfoContext(ctx, "upload complete",
		"file_id", rec.ID,
		"size", size,
		"chunks", len(stored),
	)
	return rec.Descriptor(), nil
}

// storeChunks consumes the stream and returns the handles stored so far,
// even when it fails.
func (s *Service) storeChunks(ctx context.Context, rec *models.FileRecord, r io.Reader) ([]storage.Handle, error) {
	// one byte past the declared size is enough to notice a longer stream;
	// the buffer never exceeds what that limit can deliver
	limit := rec.Size + 1
	splitter, err := chunker.NewSplitter(io.LimitReader(r, limit), min(s.opts.MaxChunkSize, limit))
	if err != nil {
		return nil, err
	}

	stored := make([]storage.Handle, 0, rec.TotalChunks)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		chunk, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stored, fmt.Errorf("failed to read upload stream: %w", err)
		}

		written += chunk.Size()
		if written > rec.Size {
			return stored, fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, rec.Size)
		}

		h, err := s.putChunk(ctx, rec, chunk)
		if err != nil {
			return stored, err
		}
		stored = append(stored, h)

		if rec.Chunked {
			cr := &models.ChunkRecord{
				FileID:     rec.ID,
				Index:      chunk.Index,
				BlobHandle: string(h),
				Size:       chunk.Size(),
				Checksum:   chunk.Hash,
				CreatedAt:  s.now(),
			}
			if err := s.store.CreateChunkRecord(ctx, cr); err != nil {
				return stored, fmt.Errorf("failed to record chunk %d: %w", chunk.Index, err)
			}
		}
	}

	if written != rec.Size {
		return stored, fmt.Errorf("%w: got %d of %d bytes", ErrSizeMismatch, written, rec.Size)
	}
	return stored, nil
}

func (s *Service) putChunk(ctx context.Context, rec *models.FileRecord, chunk chunker.Chunk) (storage.Handle, error) {
	ctx, span := tracer.Start(ctx, "put_chunk", trace.WithAttributes(
		attribute.String("file_id", rec.ID),
		attribute.Int("chunk_index", chunk.Index),
		attribute.Int64("chunk_size", chunk.Size()),
	))
	defer span.End()

	displayName := rec.Name
	if rec.Chunked {
		displayName = fmt.Sprintf("%s.part%03d", rec.Name, chunk.Index)
	}

	h, err := retryBlob(ctx, s, "put", func() (storage.Handle, error) {
		return s.blobs.Put(ctx, chunk.Data, displayName)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to store chunk %d of file %s: %w", chunk.Index, rec.ID, err)
	}

	metrics.ChunksStoredTotal.Inc()
	metrics.ChunkSize.Observe(float64(chunk.Size()))
	s.log.DebugContext(ctx, "chunk stored",
		"file_id", rec.ID,
		"chunk_index", chunk.Index,
		"size", chunk.Size(),
	)
	return h, nil
}

// rollback removes a failed upload: its blobs, its chunk records and the
// reserved file record. Failures here are logged and never replace cause.
func (s *Service) rollback(ctx context.Context, rec *models.FileRecord, stored []storage.Handle, cause error) {
	// cleanup must outlive a cancelled request
	ctx = context.WithoutCancel(ctx)

	s.log.WarnContext(ctx, "rolling back upload",
		"file_id", rec.ID,
		"stored_chunks", len(stored),
		"error", cause,
	)

	for i, h := range stored {
		s.cleanupBlob(ctx, "rollback", rec.ID, i, h)
	}
	if rec.Chunked {
		if err := s.store.DeleteChunkRecords(ctx, rec.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to delete chunk records", "file_id", rec.ID, "error", err)
		}
	}
	if err := s.store.DeleteFileRecord(ctx, rec.ID); err != nil {
		s.log.ErrorContext(ctx, "failed to delete file record", "file_id", rec.ID, "error", err)
	}
}
