package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryPutGetDelete(t *testing.T) {
	b := NewMemoryBackend(1024)
	ctx := context.Background()

	h, err := b.Put(ctx, []byte("hello"), "greeting.txt")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(string(h), "blobs/") || !strings.HasSuffix(string(h), "/greeting.txt") {
		t.Errorf("unexpected handle %q", h)
	}

	rc, err := b.Get(ctx, h)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("Get data = %q, want %q", data, "hello")
	}

	if err := b.Delete(ctx, h); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if b.Has(h) {
		t.Error("blob still present after Delete")
	}
	if _, err := b.Get(ctx, h); !IsNotFound(err) {
		t.Errorf("Get after Delete error = %v, want not found", err)
	}
	if got := b.Deleted(); len(got) != 1 || got[0] != h {
		t.Errorf("Deleted() = %v", got)
	}
}

func TestMemoryPayloadTooLarge(t *testing.T) {
	b := NewMemoryBackend(4)
	_, err := b.Put(context.Background(), []byte("12345"), "big")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Put error = %v, want ErrPayloadTooLarge", err)
	}
	if IsTransient(err) {
		t.Error("payload too large must not be transient")
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestMemoryPutHook(t *testing.T) {
	b := NewMemoryBackend(1024)
	boom := errors.New("throttled")
	b.OnPut(func(call int, _ string) error {
		if call == 1 {
			return NewTransientError("put", boom)
		}
		return nil
	})

	ctx := context.Background()
	if _, err := b.Put(ctx, []byte("a"), "a"); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	_, err := b.Put(ctx, []byte("b"), "b")
	if !IsTransient(err) || !errors.Is(err, boom) {
		t.Fatalf("second Put error = %v, want transient %v", err, boom)
	}
	if b.PutCalls() != 2 {
		t.Errorf("PutCalls() = %d, want 2", b.PutCalls())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Op: "get", Handle: "blobs/x/y", Kind: Transient, Err: errors.New("timeout")}
	if got, want := err.Error(), "get blobs/x/y (transient): timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestObjectKeySanitizes(t *testing.T) {
	key := objectKey("../etc/passwd")
	if strings.Count(key, "/") != 2 {
		t.Errorf("objectKey kept path separators: %q", key)
	}
	if !strings.HasSuffix(objectKey(""), "/blob") {
		t.Error("empty display name should fall back to \"blob\"")
	}
}
