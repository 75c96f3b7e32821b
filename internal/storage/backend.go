// Package storage holds the blob backends chunkvault persists file bytes in.
//
// A backend stores opaque payloads bounded by a maximum size and hands back a
// Handle. Backends never retry; they classify failures as transient or
// permanent and leave the retry policy to the caller.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("chunkvault-storage")

// Handle references one stored blob
type Handle string

// Backend stores and retrieves bounded-size blobs. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Put stores payload and returns its handle. Payloads above
	// MaxPayloadSize fail with ErrPayloadTooLarge.
	Put(ctx context.Context, payload []byte, displayName string) (Handle, error)

	// Get opens a stored blob. The caller must close the reader.
	Get(ctx context.Context, h Handle) (io.ReadCloser, error)

	// Delete removes a stored blob.
	Delete(ctx context.Context, h Handle) error

	// MaxPayloadSize is the largest payload Put accepts.
	MaxPayloadSize() int64
}

// Kind separates failures worth retrying from the rest
type Kind int

const (
	Permanent Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

var (
	// ErrPayloadTooLarge means a caller tried to Put more than MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrBlobNotFound means the handle does not reference a stored blob.
	ErrBlobNotFound = errors.New("blob not found")
)

// Error is returned by every backend operation that fails
type Error struct {
	Op     string
	Handle Handle
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Handle, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func transient(op string, h Handle, err error) *Error {
	return &Error{Op: op, Handle: h, Kind: Transient, Err: err}
}

func permanent(op string, h Handle, err error) *Error {
	return &Error{Op: op, Handle: h, Kind: Permanent, Err: err}
}

// IsTransient reports whether err is a backend failure worth retrying
func IsTransient(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == Transient
}

// IsNotFound reports whether err means the blob is already gone
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}

func checkPayload(op string, payload []byte, limit int64) error {
	if int64(len(payload)) > limit {
		return permanent(op, "", fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), limit))
	}
	return nil
}

// objectKey builds a unique key for a new blob. The display name is kept as
// the last path element so stored objects stay recognizable in the bucket.
func objectKey(displayName string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, displayName)
	if name == "" {
		name = "blob"
	}
	return fmt.Sprintf("blobs/%s/%s", uuid.NewString(), name)
}
