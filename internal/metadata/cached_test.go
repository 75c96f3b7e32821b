package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/maneesh/chunkvault/internal/models"
)

// fakeCache mirrors RedisCache semantics: records keyed by id and owner,
// tombstones keyed by id.
type fakeCache struct {
	mu            sync.Mutex
	entries       map[string]models.FileRecord
	tombstones    map[string]bool
	gets, hits    int
	failGet       bool
	failTombstone bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:    make(map[string]models.FileRecord),
		tombstones: make(map[string]bool),
	}
}

func cacheKey(id, owner string) string { return id + "/" + owner }

func (c *fakeCache) GetFileRecord(_ context.Context, id, owner string) (*models.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, errors.New("redis: connection refused")
	}
	if c.tombstones[id] {
		return nil, nil
	}
	f, ok := c.entries[cacheKey(id, owner)]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &f, nil
}

func (c *fakeCache) SetFileRecord(_ context.Context, f *models.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tombstones[f.ID] {
		c.entries[cacheKey(f.ID, f.OwnerID)] = *f
	}
	return nil
}

func (c *fakeCache) InvalidateFileRecord(_ context.Context, id, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(id, owner))
	return nil
}

func (c *fakeCache) TombstoneFileRecord(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTombstone {
		return errors.New("redis: connection refused")
	}
	c.tombstones[id] = true
	return nil
}

// pausingStore holds GetFileRecord after it has read the record until
// release is closed
type pausingStore struct {
	*MemoryStore
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) GetFileRecord(ctx context.Context, id, owner string) (*models.FileRecord, error) {
	f, err := p.MemoryStore.GetFileRecord(ctx, id, owner)
	close(p.read)
	<-p.release
	return f, err
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	inner := NewMemoryStore()
	f := testRecord("f1", "alice", t0)
	f.BlobHandle = "h"
	if err := inner.CreateFileRecord(context.Background(), f); err != nil {
		t.Fatalf("CreateFileRecord failed: %v", err)
	}
	return inner
}

func seededCachedStore(t *testing.T) (*CachedStore, *fakeCache, *MemoryStore) {
	t.Helper()
	inner := seedStore(t)
	cache := newFakeCache()
	return NewCachedStore(inner, cache), cache, inner
}

func TestCachedStoreServesHits(t *testing.T) {
	cs, cache, _ := seededCachedStore(t)
	ctx := context.Background()

	if _, err := cs.GetFileRecord(ctx, "f1", "alice"); err != nil {
		t.Fatalf("first GetFileRecord failed: %v", err)
	}
	if _, err := cs.GetFileRecord(ctx, "f1", "alice"); err != nil {
		t.Fatalf("second GetFileRecord failed: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}
}

func TestCachedStoreOtherOwnerMisses(t *testing.T) {
	cs, cache, _ := seededCachedStore(t)
	ctx := context.Background()

	cs.GetFileRecord(ctx, "f1", "alice") // warm
	if _, err := cs.GetFileRecord(ctx, "f1", "mallory"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup by other owner error = %v, want ErrNotFound", err)
	}
	if cache.hits != 0 {
		t.Errorf("other owner was served from cache (%d hits)", cache.hits)
	}
}

func TestCachedStoreSoftDeleteHidesCachedRecord(t *testing.T) {
	cs, cache, _ := seededCachedStore(t)
	ctx := context.Background()

	cs.GetFileRecord(ctx, "f1", "alice") // warm
	if err := cs.SoftDeleteFileRecord(ctx, "f1", "alice"); err != nil {
		t.Fatalf("SoftDeleteFileRecord failed: %v", err)
	}
	if _, err := cs.GetFileRecord(ctx, "f1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFileRecord after delete error = %v, want ErrNotFound", err)
	}
	if !cache.tombstones["f1"] {
		t.Error("soft delete did not tombstone the cache")
	}
}

func TestCachedStoreReadRacingSoftDelete(t *testing.T) {
	inner := &pausingStore{
		MemoryStore: seedStore(t),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	cs := NewCachedStore(inner, newFakeCache())
	ctx := context.Background()

	type result struct {
		f   *models.FileRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := cs.GetFileRecord(ctx, "f1", "alice")
		done <- result{f, err}
	}()

	<-inner.read
	if err := cs.SoftDeleteFileRecord(ctx, "f1", "alice"); err != nil {
		t.Fatalf("SoftDeleteFileRecord failed: %v", err)
	}
	close(inner.release)

	// the racing read started before the delete and may see the old state
	if r := <-done; r.err != nil {
		t.Fatalf("racing GetFileRecord failed: %v", r.err)
	}

	// every read after the delete returned must see it
	inner.read = make(chan struct{})
	inner.release = make(chan struct{})
	close(inner.release)
	if f, err := cs.GetFileRecord(ctx, "f1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFileRecord after delete = %+v, %v; want ErrNotFound", f, err)
	}
}

func TestCachedStoreSoftDeleteNeedsTombstone(t *testing.T) {
	cs, cache, inner := seededCachedStore(t)
	cache.failTombstone = true
	ctx := context.Background()

	if err := cs.SoftDeleteFileRecord(ctx, "f1", "alice"); err == nil {
		t.Fatal("SoftDeleteFileRecord succeeded without a tombstone")
	}
	if _, err := inner.GetFileRecord(ctx, "f1", "alice"); err != nil {
		t.Errorf("record was deleted despite the failed tombstone: %v", err)
	}
}

func TestCachedStoreFallsThroughOnCacheError(t *testing.T) {
	cs, cache, _ := seededCachedStore(t)
	cache.failGet = true

	f, err := cs.GetFileRecord(context.Background(), "f1", "alice")
	if err != nil {
		t.Fatalf("GetFileRecord failed: %v", err)
	}
	if f.ID != "f1" {
		t.Errorf("GetFileRecord returned %q", f.ID)
	}
}
