package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"testing"
	"testing/iotest"

	"github.com/maneesh/chunkvault/internal/chunker"
	"github.com/maneesh/chunkvault/internal/storage"
)

func TestUploadSingleBlob(t *testing.T) {
	env := newTestEnv(t, 1024)
	data := randomBytes(10)

	id := env.upload(t, data, "alice")

	rec, err := env.store.GetFileRecord(context.Background(), id, "alice")
	if err != nil {
		t.Fatalf("GetFileRecord failed: %v", err)
	}
	if rec.Chunked || rec.TotalChunks != 1 {
		t.Errorf("record chunked=%v total=%d, want unchunked single blob", rec.Chunked, rec.TotalChunks)
	}
	if env.store.ChunkCount(id) != 0 {
		t.Errorf("single blob upload wrote %d chunk records", env.store.ChunkCount(id))
	}
	if env.blobs.Len() != 1 {
		t.Errorf("backend holds %d blobs, want 1", env.blobs.Len())
	}
	if got := env.download(t, id, "alice"); !bytes.Equal(got, data) {
		t.Error("downloaded content differs from upload")
	}
}

func TestUploadSmallFileBuffersOnlyItsSize(t *testing.T) {
	env := newTestEnv(t, 64<<20)
	data := randomBytes(10)
	env.upload(t, data, "alice") // warm up lazily built state

	const runs = 4
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for i := 0; i < runs; i++ {
		env.upload(t, data, "alice")
	}
	runtime.ReadMemStats(&after)

	if perUpload := (after.TotalAlloc - before.TotalAlloc) / runs; perUpload > 1<<20 {
		t.Errorf("a 10-byte upload allocated %d bytes with a 64MiB chunk size", perUpload)
	}
}

func TestUploadChunked(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		maxChunk  int64
		wantSizes []int64
	}{
		{"remainder", 250, 100, []int64{100, 100, 50}},
		{"exact multiple", 300, 100, []int64{100, 100, 100}},
		{"one byte over", 101, 100, []int64{100, 1}},
		{"size equals max", 100, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.maxChunk)
			data := randomBytes(tt.size)
			id := env.upload(t, data, "alice")
			ctx := context.Background()

			rec, err := env.store.GetFileRecord(ctx, id, "alice")
			if err != nil {
				t.Fatalf("GetFileRecord failed: %v", err)
			}
			chunks, err := env.store.ListChunkRecords(ctx, id)
			if err != nil {
				t.Fatalf("ListChunkRecords failed: %v", err)
			}

			if tt.wantSizes == nil {
				if rec.Chunked || len(chunks) != 0 {
					t.Fatalf("file of max size was chunked into %d", len(chunks))
				}
			} else {
				if !rec.Chunked || rec.TotalChunks != len(tt.wantSizes) {
					t.Fatalf("record chunked=%v total=%d, want %d chunks", rec.Chunked, rec.TotalChunks, len(tt.wantSizes))
				}
				if len(chunks) != len(tt.wantSizes) {
					t.Fatalf("got %d chunk records, want %d", len(chunks), len(tt.wantSizes))
				}
				for i, c := range chunks {
					if c.Index != i || c.Size != tt.wantSizes[i] {
						t.Errorf("chunk %d: index %d size %d, want size %d", i, c.Index, c.Size, tt.wantSizes[i])
					}
					if c.Checksum == "" {
						t.Errorf("chunk %d has no checksum", i)
					}
				}
				if rec.BlobHandle != chunks[0].BlobHandle {
					t.Errorf("primary handle %q, want first chunk %q", rec.BlobHandle, chunks[0].BlobHandle)
				}
			}

			if got := env.download(t, id, "alice"); !bytes.Equal(got, data) {
				t.Error("downloaded content differs from upload")
			}
		})
	}
}

func TestUploadEmptyInput(t *testing.T) {
	env := newTestEnv(t, 100)

	_, err := env.svc.UploadFile(context.Background(), bytes.NewReader(nil), 0, "empty.txt", "text/plain", "alice")
	if !errors.Is(err, chunker.ErrEmptyInput) || KindOf(err) != KindEmptyInput {
		t.Fatalf("UploadFile(empty) error = %v, want ErrEmptyInput", err)
	}
	if env.store.FileCount() != 0 || env.blobs.PutCalls() != 0 {
		t.Error("empty upload had side effects")
	}
}

func TestUploadFailureMidwayCleansUp(t *testing.T) {
	env := newTestEnv(t, 100)
	env.blobs.OnPut(func(call int, _ string) error {
		if call == 2 {
			return storage.NewPermanentError("put", errors.New("403 forbidden"))
		}
		return nil
	})

	_, err := env.svc.UploadFile(context.Background(), bytes.NewReader(randomBytes(500)), 500, "big.bin", "", "alice")
	if err == nil {
		t.Fatal("UploadFile succeeded despite backend failure")
	}
	if KindOf(err) != KindPermanent {
		t.Errorf("error kind = %v, want permanent", KindOf(err))
	}

	if n := env.store.FileCount(); n != 0 {
		t.Errorf("%d file records left after rollback", n)
	}
	if n := env.store.TotalChunkCount(); n != 0 {
		t.Errorf("%d chunk records left after rollback", n)
	}
	if n := env.blobs.Len(); n != 0 {
		t.Errorf("%d blobs left after rollback", n)
	}
	if n := len(env.blobs.Deleted()); n != 2 {
		t.Errorf("rollback deleted %d blobs, want chunks 0 and 1", n)
	}
	// a permanent failure is not retried
	if n := env.blobs.PutCalls(); n != 3 {
		t.Errorf("backend saw %d puts, want 3", n)
	}
}

func TestUploadSingleBlobFailureRemovesRecord(t *testing.T) {
	env := newTestEnv(t, 100)
	env.blobs.OnPut(func(int, string) error {
		return storage.NewPermanentError("put", errors.New("bad request"))
	})

	if _, err := env.svc.UploadFile(context.Background(), bytes.NewReader(randomBytes(10)), 10, "a", "", "alice"); err == nil {
		t.Fatal("UploadFile succeeded despite backend failure")
	}
	if env.store.FileCount() != 0 {
		t.Error("file record left after failed single blob upload")
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t, 100)
	env.blobs.OnPut(func(call int, _ string) error {
		if call == 1 || call == 2 {
			return storage.NewTransientError("put", errors.New("503 slow down"))
		}
		return nil
	})

	data := randomBytes(250)
	id := env.upload(t, data, "alice")

	if n := env.blobs.PutCalls(); n != 5 {
		t.Errorf("backend saw %d puts, want 3 chunks + 2 retries", n)
	}
	if got := env.download(t, id, "alice"); !bytes.Equal(got, data) {
		t.Error("downloaded content differs from upload")
	}
}

func TestUploadTransientExhaustedIsPermanent(t *testing.T) {
	env := newTestEnv(t, 100)
	env.blobs.OnPut(func(call int, _ string) error {
		if call >= 1 {
			return storage.NewTransientError("put", errors.New("connection reset"))
		}
		return nil
	})

	_, err := env.svc.UploadFile(context.Background(), bytes.NewReader(randomBytes(250)), 250, "a", "", "alice")
	if !errors.Is(err, ErrRetriesExhausted) || KindOf(err) != KindPermanent {
		t.Fatalf("UploadFile error = %v (kind %v), want exhausted retries", err, KindOf(err))
	}
	// chunk 0 once, chunk 1 initial attempt + 3 retries
	if n := env.blobs.PutCalls(); n != 5 {
		t.Errorf("backend saw %d puts, want 5", n)
	}
	if env.blobs.Len() != 0 || env.store.FileCount() != 0 {
		t.Error("artifacts left after exhausted retries")
	}
}

func TestUploadStreamAborted(t *testing.T) {
	env := newTestEnv(t, 100)
	broken := io.MultiReader(bytes.NewReader(randomBytes(150)), iotest.ErrReader(errors.New("connection reset by peer")))

	_, err := env.svc.UploadFile(context.Background(), broken, 500, "a", "", "alice")
	if err == nil {
		t.Fatal("UploadFile succeeded on a broken stream")
	}
	if env.blobs.Len() != 0 || env.store.FileCount() != 0 || env.store.TotalChunkCount() != 0 {
		t.Error("artifacts left after aborted stream")
	}
	if n := len(env.blobs.Deleted()); n != 1 {
		t.Errorf("rollback deleted %d blobs, want 1", n)
	}
}

func TestUploadSizeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		actual   int
		declared int64
	}{
		{"short stream chunked", 250, 300},
		{"long stream chunked", 250, 200},
		{"short stream single", 10, 50},
		{"long stream at max", 101, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 100)
			_, err := env.svc.UploadFile(context.Background(), bytes.NewReader(randomBytes(tt.actual)), tt.declared, "a", "", "alice")
			if !errors.Is(err, ErrSizeMismatch) || KindOf(err) != KindInvalidInput {
				t.Fatalf("UploadFile error = %v, want ErrSizeMismatch", err)
			}
			if env.blobs.Len() != 0 || env.store.FileCount() != 0 || env.store.TotalChunkCount() != 0 {
				t.Error("artifacts left after size mismatch")
			}
		})
	}
}

func TestUploadCancelledContext(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	env.blobs.OnPut(func(call int, _ string) error {
		if call == 1 {
			cancel()
		}
		return nil
	})

	_, err := env.svc.UploadFile(ctx, bytes.NewReader(randomBytes(500)), 500, "a", "", "alice")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UploadFile error = %v, want context.Canceled", err)
	}
	// cleanup runs even though the request context is gone
	if env.blobs.Len() != 0 || env.store.FileCount() != 0 {
		t.Error("artifacts left after cancelled upload")
	}
}

func TestRollbackRetriesCleanupOnce(t *testing.T) {
	env := newTestEnv(t, 100)
	env.blobs.OnPut(func(call int, _ string) error {
		if call == 1 {
			return storage.NewPermanentError("put", errors.New("denied"))
		}
		return nil
	})
	deletes := 0
	env.blobs.OnDelete(func(storage.Handle) error {
		deletes++
		return storage.NewTransientError("delete", errors.New("timeout"))
	})

	if _, err := env.svc.UploadFile(context.Background(), bytes.NewReader(randomBytes(250)), 250, "a", "", "alice"); err == nil {
		t.Fatal("UploadFile succeeded despite backend failure")
	}
	if deletes != 2 {
		t.Errorf("cleanup attempted %d deletes, want 2", deletes)
	}
	// the blob is leaked but the file itself is gone
	if env.blobs.Len() != 1 || env.store.FileCount() != 0 {
		t.Errorf("blobs=%d records=%d, want 1 leaked blob and no record", env.blobs.Len(), env.store.FileCount())
	}
}
