package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maneesh/chunkvault/internal/models"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemStore(t *testing.T) Store {
	return NewMemoryStore()
}

var storeFactories = map[string]func(t *testing.T) Store{
	"sqlite": newSQLiteStore,
	"memory": newMemStore,
}

var t0 = time.Date(2025, 7, 25, 7, 29, 39, 0, time.UTC)

func testRecord(id, owner string, created time.Time) *models.FileRecord {
	return &models.FileRecord{
		ID:          id,
		OwnerID:     owner,
		Name:        id + ".bin",
		ContentType: "application/octet-stream",
		Size:        100,
		CreatedAt:   created,
		Chunked:     true,
		TotalChunks: 2,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestIncompleteRecordsAreInvisible(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := testRecord("f1", "alice", t0)
		if err := s.CreateFileRecord(ctx, f); err != nil {
			t.Fatalf("CreateFileRecord failed: %v", err)
		}

		if _, err := s.GetFileRecord(ctx, "f1", "alice"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetFileRecord on incomplete record error = %v, want ErrNotFound", err)
		}
		list, _ := s.ListFileRecords(ctx, "alice")
		if len(list) != 0 {
			t.Errorf("ListFileRecords returned %d incomplete records", len(list))
		}
		incomplete, err := s.ListIncompleteFileRecords(ctx, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("ListIncompleteFileRecords failed: %v", err)
		}
		if len(incomplete) != 1 || incomplete[0].ID != "f1" {
			t.Errorf("ListIncompleteFileRecords = %v, want [f1]", incomplete)
		}
		if got, _ := s.ListIncompleteFileRecords(ctx, t0); len(got) != 0 {
			t.Errorf("cutoff not honored: %d records", len(got))
		}
	})
}

func TestFinalizeAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := testRecord("f1", "alice", t0)
		if err := s.CreateFileRecord(ctx, f); err != nil {
			t.Fatalf("CreateFileRecord failed: %v", err)
		}
		f.BlobHandle = "blobs/x/f1.bin.part000"
		if err := s.UpdateFileRecord(ctx, f); err != nil {
			t.Fatalf("UpdateFileRecord failed: %v", err)
		}

		got, err := s.GetFileRecord(ctx, "f1", "alice")
		if err != nil {
			t.Fatalf("GetFileRecord failed: %v", err)
		}
		if got.BlobHandle != f.BlobHandle || got.TotalChunks != 2 || !got.Chunked || got.Size != 100 {
			t.Errorf("GetFileRecord = %+v", got)
		}
		if !got.CreatedAt.Equal(t0) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
		}

		if _, err := s.GetFileRecord(ctx, "f1", "mallory"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetFileRecord with wrong owner error = %v, want ErrNotFound", err)
		}
		if err := s.UpdateFileRecord(ctx, testRecord("missing", "alice", t0)); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateFileRecord(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSoftDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := testRecord("f1", "alice", t0)
		f.BlobHandle = "h"
		if err := s.CreateFileRecord(ctx, f); err != nil {
			t.Fatalf("CreateFileRecord failed: %v", err)
		}

		if err := s.SoftDeleteFileRecord(ctx, "f1", "mallory"); !errors.Is(err, ErrNotFound) {
			t.Errorf("SoftDelete by other owner error = %v, want ErrNotFound", err)
		}
		if err := s.SoftDeleteFileRecord(ctx, "f1", "alice"); err != nil {
			t.Fatalf("SoftDeleteFileRecord failed: %v", err)
		}
		if err := s.SoftDeleteFileRecord(ctx, "f1", "alice"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second SoftDelete error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetFileRecord(ctx, "f1", "alice"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetFileRecord after soft delete error = %v, want ErrNotFound", err)
		}
		// soft-deleted records are not reconciliation candidates
		if got, _ := s.ListIncompleteFileRecords(ctx, t0.Add(time.Hour)); len(got) != 0 {
			t.Errorf("soft-deleted record listed as incomplete")
		}
	})
}

func TestListFileRecordsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"old", "mid", "new"} {
			f := testRecord(id, "alice", t0.Add(time.Duration(i)*time.Minute))
			f.BlobHandle = "h-" + id
			if err := s.CreateFileRecord(ctx, f); err != nil {
				t.Fatalf("CreateFileRecord failed: %v", err)
			}
		}
		other := testRecord("theirs", "bob", t0)
		other.BlobHandle = "h"
		s.CreateFileRecord(ctx, other)

		list, err := s.ListFileRecords(ctx, "alice")
		if err != nil {
			t.Fatalf("ListFileRecords failed: %v", err)
		}
		var ids []string
		for _, f := range list {
			ids = append(ids, f.ID)
		}
		if len(ids) != 3 || ids[0] != "new" || ids[1] != "mid" || ids[2] != "old" {
			t.Errorf("ListFileRecords order = %v, want [new mid old]", ids)
		}
	})
}

func TestChunkRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, idx := range []int{1, 0, 2} {
			c := &models.ChunkRecord{
				FileID:     "f1",
				Index:      idx,
				BlobHandle: "h",
				Size:       10,
				Checksum:   "abc",
				CreatedAt:  t0,
			}
			if err := s.CreateChunkRecord(ctx, c); err != nil {
				t.Fatalf("CreateChunkRecord(%d) failed: %v", idx, err)
			}
		}

		dup := &models.ChunkRecord{FileID: "f1", Index: 1, BlobHandle: "h2", Checksum: "x", CreatedAt: t0}
		if err := s.CreateChunkRecord(ctx, dup); !errors.Is(err, ErrDuplicateChunk) {
			t.Errorf("duplicate CreateChunkRecord error = %v, want ErrDuplicateChunk", err)
		}

		chunks, err := s.ListChunkRecords(ctx, "f1")
		if err != nil {
			t.Fatalf("ListChunkRecords failed: %v", err)
		}
		if len(chunks) != 3 {
			t.Fatalf("len(chunks) = %d, want 3", len(chunks))
		}
		for i, c := range chunks {
			if c.Index != i {
				t.Errorf("chunks[%d].Index = %d", i, c.Index)
			}
		}

		if err := s.DeleteChunkRecords(ctx, "f1"); err != nil {
			t.Fatalf("DeleteChunkRecords failed: %v", err)
		}
		if chunks, _ := s.ListChunkRecords(ctx, "f1"); len(chunks) != 0 {
			t.Errorf("%d chunks left after DeleteChunkRecords", len(chunks))
		}
	})
}

func TestDeleteFileRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := testRecord("f1", "alice", t0)
		s.CreateFileRecord(ctx, f)
		if err := s.DeleteFileRecord(ctx, "f1"); err != nil {
			t.Fatalf("DeleteFileRecord failed: %v", err)
		}
		if got, _ := s.ListIncompleteFileRecords(ctx, t0.Add(time.Hour)); len(got) != 0 {
			t.Error("record survived DeleteFileRecord")
		}
	})
}

func TestOpenSQLStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQLStore(context.Background(), "postgres", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestUpdateWithUnchangedValues(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := testRecord("f1", "alice", t0)
		if err := s.CreateFileRecord(ctx, f); err != nil {
			t.Fatalf("CreateFileRecord failed: %v", err)
		}
		f.BlobHandle = "h"
		if err := s.UpdateFileRecord(ctx, f); err != nil {
			t.Fatalf("UpdateFileRecord failed: %v", err)
		}
		if err := s.UpdateFileRecord(ctx, f); err != nil {
			t.Errorf("repeating UpdateFileRecord error = %v, want nil", err)
		}
	})
}

func TestWithFoundRows(t *testing.T) {
	for _, dsn := range []string{
		"root:pw@tcp(db:4000)/chunkvault?charset=utf8mb4",
		"root:pw@tcp(db:4000)/chunkvault?charset=utf8mb4&clientFoundRows=true",
	} {
		got, err := withFoundRows(dsn)
		if err != nil {
			t.Fatalf("withFoundRows(%q) failed: %v", dsn, err)
		}
		if strings.Count(got, "clientFoundRows=true") != 1 {
			t.Errorf("withFoundRows(%q) = %q", dsn, got)
		}
	}

	if _, err := withFoundRows("not a dsn"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}
