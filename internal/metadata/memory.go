package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/chunkvault/internal/models"
)

// MemoryStore is an in-process Store for tests and the memory mode
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string]models.FileRecord
	chunks map[string]map[int]models.ChunkRecord
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string]models.FileRecord),
		chunks: make(map[string]map[int]models.ChunkRecord),
	}
}

// CreateFileRecord implements Store.
func (m *MemoryStore) CreateFileRecord(_ context.Context, f *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[f.ID]; ok {
		return fmt.Errorf("file %s already exists", f.ID)
	}
	m.files[f.ID] = *f
	return nil
}

// UpdateFileRecord implements Store.
func (m *MemoryStore) UpdateFileRecord(_ context.Context, f *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.files[f.ID]
	if !ok {
		return ErrNotFound
	}
	// owner and creation time are immutable
	updated := *f
	updated.OwnerID = cur.OwnerID
	updated.CreatedAt = cur.CreatedAt
	m.files[f.ID] = updated
	return nil
}

// SoftDeleteFileRecord implements Store.
func (m *MemoryStore) SoftDeleteFileRecord(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok || !visible(&f, ownerID) {
		return ErrNotFound
	}
	f.Deleted = true
	m.files[id] = f
	return nil
}

// DeleteFileRecord implements Store.
func (m *MemoryStore) DeleteFileRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

// GetFileRecord implements Store.
func (m *MemoryStore) GetFileRecord(_ context.Context, id, ownerID string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok || !visible(&f, ownerID) {
		return nil, ErrNotFound
	}
	return &f, nil
}

// ListFileRecords implements Store.
func (m *MemoryStore) ListFileRecords(_ context.Context, ownerID string) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.FileRecord
	for _, f := range m.files {
		if visible(&f, ownerID) {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListIncompleteFileRecords implements Store.
func (m *MemoryStore) ListIncompleteFileRecords(_ context.Context, before time.Time) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.FileRecord
	for _, f := range m.files {
		if !f.Complete() && !f.Deleted && f.CreatedAt.Before(before) {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateChunkRecord implements Store.
func (m *MemoryStore) CreateChunkRecord(_ context.Context, c *models.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.chunks[c.FileID]
	if !ok {
		byIndex = make(map[int]models.ChunkRecord)
		m.chunks[c.FileID] = byIndex
	}
	if _, dup := byIndex[c.Index]; dup {
		return fmt.Errorf("chunk %d of %s: %w", c.Index, c.FileID, ErrDuplicateChunk)
	}
	byIndex[c.Index] = *c
	return nil
}

// ListChunkRecords implements Store.
func (m *MemoryStore) ListChunkRecords(_ context.Context, fileID string) ([]*models.ChunkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ChunkRecord
	for _, c := range m.chunks[fileID] {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// DeleteChunkRecords implements Store.
func (m *MemoryStore) DeleteChunkRecords(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, fileID)
	return nil
}

// RemoveChunkRecord drops a single chunk record. Nothing in the engine does
// this; tests use it to simulate out-of-band damage.
func (m *MemoryStore) RemoveChunkRecord(fileID string, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks[fileID], index)
}

// FileCount returns the number of records, complete or not
func (m *MemoryStore) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// ChunkCount returns the number of chunk records stored for fileID
func (m *MemoryStore) ChunkCount(fileID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[fileID])
}

// TotalChunkCount returns the number of chunk records across all files
func (m *MemoryStore) TotalChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byIndex := range m.chunks {
		n += len(byIndex)
	}
	return n
}

func visible(f *models.FileRecord, ownerID string) bool {
	return f.OwnerID == ownerID && !f.Deleted && f.Complete()
}

var _ Store = (*MemoryStore)(nil)
