package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maneesh/chunkvault/internal/models"
)

// Cache is a look-aside cache for file records keyed by id and owner
type Cache interface {
	// GetFileRecord returns nil, nil on a miss, including when the record
	// belongs to another owner or the file is tombstoned.
	GetFileRecord(ctx context.Context, fileID, ownerID string) (*models.FileRecord, error)
	// SetFileRecord is a no-op for a tombstoned file.
	SetFileRecord(ctx context.Context, file *models.FileRecord) error
	InvalidateFileRecord(ctx context.Context, fileID, ownerID string) error
	// TombstoneFileRecord hides the file from the cache, under any owner,
	// for at least as long as a cached record can live.
	TombstoneFileRecord(ctx context.Context, fileID string) error
}

// CachedStore serves GetFileRecord from a cache. Lookups are owner-scoped
// in the cache key, so a foreign id misses and falls through to the store.
//
// Removing a record tombstones it in the cache before the store is
// touched. A read that fetched the record before the removal cannot put it
// back afterwards, so once the removal returns no reader sees the record.
// Read-side cache failures are logged and fall through to the wrapped store.
type CachedStore struct {
	Store
	cache Cache
}

// NewCachedStore wraps store with cache
func NewCachedStore(store Store, cache Cache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

// GetFileRecord implements Store.
func (cs *CachedStore) GetFileRecord(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	cached, err := cs.cache.GetFileRecord(ctx, id, ownerID)
	if err != nil {
		slog.WarnContext(ctx, "file record cache lookup failed", "file_id", id, "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	f, err := cs.Store.GetFileRecord(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if err := cs.cache.SetFileRecord(ctx, f); err != nil {
		slog.WarnContext(ctx, "failed to update file record cache", "file_id", id, "error", err)
	}
	return f, nil
}

// UpdateFileRecord implements Store.
func (cs *CachedStore) UpdateFileRecord(ctx context.Context, f *models.FileRecord) error {
	if err := cs.Store.UpdateFileRecord(ctx, f); err != nil {
		return err
	}
	if err := cs.cache.InvalidateFileRecord(ctx, f.ID, f.OwnerID); err != nil {
		slog.WarnContext(ctx, "failed to invalidate file record cache", "file_id", f.ID, "error", err)
	}
	return nil
}

// SoftDeleteFileRecord implements Store. It fails without touching the
// store if the cache cannot be tombstoned.
func (cs *CachedStore) SoftDeleteFileRecord(ctx context.Context, id, ownerID string) error {
	if err := cs.cache.TombstoneFileRecord(ctx, id); err != nil {
		return fmt.Errorf("failed to tombstone file %s in cache: %w", id, err)
	}
	return cs.Store.SoftDeleteFileRecord(ctx, id, ownerID)
}

// DeleteFileRecord implements Store. Only incomplete records reach it and
// those are never cached, so a failed tombstone is just logged.
func (cs *CachedStore) DeleteFileRecord(ctx context.Context, id string) error {
	if err := cs.cache.TombstoneFileRecord(ctx, id); err != nil {
		slog.WarnContext(ctx, "failed to tombstone file record cache", "file_id", id, "error", err)
	}
	return cs.Store.DeleteFileRecord(ctx, id)
}

var _ Store = (*CachedStore)(nil)
