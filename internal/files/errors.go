package files

import (
	"context"
	"errors"

	"github.com/maneesh/chunkvault/internal/chunker"
	"github.com/maneesh/chunkvault/internal/metadata"
	"github.com/maneesh/chunkvault/internal/storage"
)

var (
	// ErrNotFound means the file does not exist for the requester. Files
	// owned by someone else and soft-deleted files report the same error.
	ErrNotFound = errors.New("file not found")
	// ErrIncompleteFile means the stored chunk records do not cover the file
	ErrIncompleteFile = errors.New("file is incomplete")
	// ErrCorruptChunk means a chunk read back does not match its record
	ErrCorruptChunk = errors.New("chunk failed verification")
	// ErrSizeMismatch means the upload stream length differs from the declared size
	ErrSizeMismatch = errors.New("stream length does not match declared size")
	// ErrRetriesExhausted wraps a transient failure that outlived the retry policy
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Kind is the failure category surfaced to callers of the service
type Kind int

const (
	KindInternal Kind = iota
	KindEmptyInput
	KindInvalidInput
	KindPayloadTooLarge
	KindTransient
	KindPermanent
	KindNotFound
	KindIncompleteFile
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindEmptyInput:      "empty_input",
	KindInvalidInput:    "invalid_input",
	KindPayloadTooLarge: "payload_too_large",
	KindTransient:       "transient",
	KindPermanent:       "permanent",
	KindNotFound:        "not_found",
	KindIncompleteFile:  "incomplete_file",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// Message returns a generic description that is safe to show to end users
func (k Kind) Message() string {
	switch k {
	case KindEmptyInput:
		return "file is empty"
	case KindInvalidInput:
		return "uploaded content does not match the declared size"
	case KindPayloadTooLarge:
		return "payload exceeds the storage limit"
	case KindTransient:
		return "storage is temporarily unavailable, try again later"
	case KindPermanent:
		return "storage backend rejected the request"
	case KindNotFound:
		return "file not found"
	case KindIncompleteFile:
		return "file is damaged and cannot be downloaded"
	default:
		return "internal error"
	}
}

// KindOf classifies an error returned by the service
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, chunker.ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrSizeMismatch):
		return KindInvalidInput
	case errors.Is(err, storage.ErrPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, ErrNotFound),
		errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, metadata.ErrNotOwned):
		return KindNotFound
	case errors.Is(err, ErrIncompleteFile):
		return KindIncompleteFile
	case errors.Is(err, ErrRetriesExhausted),
		errors.Is(err, ErrCorruptChunk):
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var be *storage.Error
	if errors.As(err, &be) {
		if be.Kind == storage.Transient {
			return KindTransient
		}
		return KindPermanent
	}
	return KindInternal
}
