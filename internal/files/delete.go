package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/chunkvault/internal/metadata"
	"github.com/maneesh/chunkvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeleteFile soft-deletes a file owned by ownerID and then removes its blobs.
//
// The file is gone for every reader as soon as the soft delete succeeds.
// Blob removal afterwards is best effort: failures are logged and the call
// still succeeds. Deleting an already deleted file returns ErrNotFound.
func (s *Service) DeleteFile(ctx context.Context, id, ownerID string) (err error) {
	ctx, span := tracer.Start(ctx, "delete_file", trace.WithAttributes(attribute.String("file_id", id)))
	defer func() { endSpan(span, err) }()
	defer observe("delete", time.Now(), &err)

	rec, err := s.lookup(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.store.SoftDeleteFileRecord(ctx, id, ownerID); err != nil {
		// lost a race with another delete
		if errors.Is(err, metadata.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}

	// the file is deleted from here on; nothing below may fail the call
	ctx = context.WithoutCancel(ctx)

	type target struct {
		index  int
		handle storage.Handle
	}
	var targets []target
	if !rec.Chunked {
		targets = append(targets, target{0, storage.Handle(rec.BlobHandle)})
	} else {
		chunks, err := s.store.ListChunkRecords(ctx, rec.ID)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to list chunks for cleanup", "file_id", rec.ID, "error", err)
			return nil
		}
		for _, c := range chunks {
			targets = append(targets, target{c.Index, storage.Handle(c.BlobHandle)})
		}
	}

	removed := 0
	for _, t := range targets {
		if s.cleanupBlob(ctx, "delete", rec.ID, t.index, t.handle) {
			removed++
		}
	}
	span.SetAttributes(attribute.Int("blobs_removed", removed))
	s.log.InfoContext(ctx, "file deleted",
		"file_id", rec.ID,
		"blobs_removed", removed,
		"blobs_total", len(targets),
	)
	return nil
}
