package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBackend keeps blobs in a map. It backs the "memory" mode and the
// tests, where hooks inject backend faults.
type MemoryBackend struct {
	mu         sync.RWMutex
	blobs      map[Handle][]byte
	maxPayload int64

	putCalls int
	deleted  []Handle

	putHook    func(call int, displayName string) error
	getHook    func(h Handle) error
	deleteHook func(h Handle) error
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend(maxPayloadSize int64) *MemoryBackend {
	return &MemoryBackend{
		blobs:      make(map[Handle][]byte),
		maxPayload: maxPayloadSize,
	}
}

// MaxPayloadSize implements Backend.
func (b *MemoryBackend) MaxPayloadSize() int64 {
	return b.maxPayload
}

// Put implements Backend.
func (b *MemoryBackend) Put(ctx context.Context, payload []byte, displayName string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", permanent("put", "", err)
	}
	if err := checkPayload("put", payload, b.maxPayload); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	call := b.putCalls
	b.putCalls++
	if b.putHook != nil {
		if err := b.putHook(call, displayName); err != nil {
			return "", err
		}
	}

	h := Handle(objectKey(displayName))
	data := make([]byte, len(payload))
	copy(data, payload)
	b.blobs[h] = data
	return h, nil
}

// Get implements Backend.
func (b *MemoryBackend) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, permanent("get", h, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.getHook != nil {
		if err := b.getHook(h); err != nil {
			return nil, err
		}
	}
	data, ok := b.blobs[h]
	if !ok {
		return nil, permanent("get", h, ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return permanent("delete", h, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleteHook != nil {
		if err := b.deleteHook(h); err != nil {
			return err
		}
	}
	if _, ok := b.blobs[h]; !ok {
		return permanent("delete", h, ErrBlobNotFound)
	}
	delete(b.blobs, h)
	b.deleted = append(b.deleted, h)
	return nil
}

// OnPut installs a hook consulted before every Put. call counts from zero
// across the backend's lifetime. A non-nil error fails the Put.
func (b *MemoryBackend) OnPut(hook func(call int, displayName string) error) {
	b.mu.Lock()
	b.putHook = hook
	b.mu.Unlock()
}

// OnGet installs a hook consulted before every Get.
func (b *MemoryBackend) OnGet(hook func(h Handle) error) {
	b.mu.Lock()
	b.getHook = hook
	b.mu.Unlock()
}

// OnDelete installs a hook consulted before every Delete.
func (b *MemoryBackend) OnDelete(hook func(h Handle) error) {
	b.mu.Lock()
	b.deleteHook = hook
	b.mu.Unlock()
}

// Len returns the number of stored blobs
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Has reports whether h is stored
func (b *MemoryBackend) Has(h Handle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blobs[h]
	return ok
}

// Deleted returns the handles removed so far, in order
func (b *MemoryBackend) Deleted() []Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handle(nil), b.deleted...)
}

// PutCalls returns how many times Put was invoked
func (b *MemoryBackend) PutCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.putCalls
}

// NewTransientError wraps err as a retryable backend failure.
func NewTransientError(op string, err error) error {
	return transient(op, "", err)
}

// NewPermanentError wraps err as a non-retryable backend failure.
func NewPermanentError(op string, err error) error {
	return permanent(op, "", err)
}

func (b *MemoryBackend) String() string {
	return fmt.Sprintf("memory(%d blobs)", b.Len())
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*MinioBackend)(nil)
)
