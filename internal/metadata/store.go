// Package metadata persists file and chunk records.
//
// Every lookup a user can trigger is scoped by owner inside the query itself;
// records are never fetched first and checked afterwards.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/maneesh/chunkvault/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("chunkvault-metadata")

var (
	// ErrNotFound means no visible record matched
	ErrNotFound = errors.New("record not found")
	// ErrNotOwned means the record exists but belongs to someone else.
	// Callers must report it exactly like ErrNotFound.
	ErrNotOwned = errors.New("record not owned by requester")
	// ErrDuplicateChunk means a chunk with the same (file, index) exists
	ErrDuplicateChunk = errors.New("duplicate chunk index")
)

// Store is the durable home of FileRecords and ChunkRecords. Each call
// touches a single file; no cross-file transactions are needed.
type Store interface {
	// CreateFileRecord reserves a new record. The record stays invisible to
	// GetFileRecord and ListFileRecords until it has a blob handle.
	CreateFileRecord(ctx context.Context, f *models.FileRecord) error

	// UpdateFileRecord writes back a record's mutable fields.
	UpdateFileRecord(ctx context.Context, f *models.FileRecord) error

	// SoftDeleteFileRecord hides a complete record from every read. It
	// returns ErrNotFound if the record is absent, already deleted or owned
	// by someone else.
	SoftDeleteFileRecord(ctx context.Context, id, ownerID string) error

	// DeleteFileRecord removes a record outright. Only upload rollback and
	// reconciliation use it.
	DeleteFileRecord(ctx context.Context, id string) error

	// GetFileRecord returns a complete, non-deleted record owned by ownerID.
	GetFileRecord(ctx context.Context, id, ownerID string) (*models.FileRecord, error)

	// ListFileRecords returns ownerID's complete, non-deleted records,
	// newest first.
	ListFileRecords(ctx context.Context, ownerID string) ([]*models.FileRecord, error)

	// ListIncompleteFileRecords returns records created before the cutoff
	// whose upload never finalized.
	ListIncompleteFileRecords(ctx context.Context, before time.Time) ([]*models.FileRecord, error)

	CreateChunkRecord(ctx context.Context, c *models.ChunkRecord) error

	// ListChunkRecords returns a file's chunks ordered by index.
	ListChunkRecords(ctx context.Context, fileID string) ([]*models.ChunkRecord, error)

	DeleteChunkRecords(ctx context.Context, fileID string) error
}
