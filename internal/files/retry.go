package files

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/storage"
)

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.Retry.InitialInterval
	b.MaxInterval = s.opts.Retry.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.opts.Retry.MaxRetries), ctx)
}

// retryBlob runs a blob operation, retrying only transient backend failures.
// A transient failure that survives every retry is reported wrapped in
// ErrRetriesExhausted so callers treat it as permanent.
func retryBlob[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	res, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !storage.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, s.newBackOff(ctx), func(err error, wait time.Duration) {
		metrics.BlobRetriesTotal.WithLabelValues(op).Inc()
		s.log.WarnContext(ctx, "retrying blob operation",
			"op", op,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	})
	if err != nil && storage.IsTransient(err) {
		return res, fmt.Errorf("%s failed after %d attempts: %w: %w", op, attempts, ErrRetriesExhausted, err)
	}
	return res, err
}

// cleanupBlob removes a blob left behind by a failed or deleted file. It tries
// twice with no backoff and only logs if both attempts fail. A blob that is
// already gone counts as removed.
func (s *Service) cleanupBlob(ctx context.Context, reason, fileID string, index int, h storage.Handle) bool {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.blobs.Delete(ctx, h)
		if err == nil || storage.IsNotFound(err) {
			return true
		}
	}
	metrics.CleanupFailuresTotal.WithLabelValues(reason).Inc()
	s.log.ErrorContext(ctx, "blob cleanup failed",
		"reason", reason,
		"file_id", fileID,
		"chunk_index", index,
		"blob_handle", string(h),
		"error", err,
	)
	return false
}
