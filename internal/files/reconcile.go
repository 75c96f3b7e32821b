package files

import (
	"context"
	"time"

	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// ReapIncomplete removes files whose upload never finished and that are
// older than olderThan, together with their chunk records and the blobs
// those records reference. It returns how many files were removed.
//
// olderThan must comfortably exceed the longest upload, otherwise an upload
// still in progress can be reaped under its feet.
func (s *Service) ReapIncomplete(ctx context.Context, olderThan time.Duration) (reaped int, err error) {
	ctx, span := tracer.Start(ctx, "reap_incomplete")
	defer func() {
		span.SetAttributes(attribute.Int("reaped", reaped))
		endSpan(span, err)
	}()
	defer observe("reconcile", time.Now(), &err)

	recs, err := s.store.ListIncompleteFileRecords(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}

		chunks, err := s.store.ListChunkRecords(ctx, rec.ID)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to list chunks of incomplete file", "file_id", rec.ID, "error", err)
			continue
		}
		for _, c := range chunks {
			s.cleanupBlob(ctx, "reconcile", rec.ID, c.Index, storage.Handle(c.BlobHandle))
		}
		if err := s.store.DeleteChunkRecords(ctx, rec.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to delete chunk records", "file_id", rec.ID, "error", err)
			continue
		}
		if err := s.store.DeleteFileRecord(ctx, rec.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to delete file record", "file_id", rec.ID, "error", err)
			continue
		}

		reaped++
		metrics.ReconciledTotal.Inc()
		s.log.InfoContext(ctx, "reaped incomplete file",
			"file_id", rec.ID,
			"created_at", rec.CreatedAt,
			"chunks", len(chunks),
		)
	}
	return reaped, nil
}

// RunReconciler calls ReapIncomplete every interval until ctx is done
func (s *Service) RunReconciler(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReapIncomplete(ctx, olderThan); err != nil && ctx.Err() == nil {
				s.log.ErrorContext(ctx, "reconcile pass failed", "error", err)
			}
		}
	}
}
