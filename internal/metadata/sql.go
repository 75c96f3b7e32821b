package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/chunkvault/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var schemas = map[string][]string{
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS files (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(128) NOT NULL,
			name VARCHAR(512) NOT NULL,
			content_type VARCHAR(255) NOT NULL,
			size BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			chunked BOOLEAN NOT NULL DEFAULT FALSE,
			total_chunks INT NOT NULL,
			blob_handle VARCHAR(1024) NOT NULL DEFAULT '',
			INDEX idx_files_owner (owner_id, deleted, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			file_id VARCHAR(36) NOT NULL,
			chunk_index INT NOT NULL,
			blob_handle VARCHAR(1024) NOT NULL,
			size BIGINT NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (file_id, chunk_index)
		)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT 0,
			chunked BOOLEAN NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL,
			blob_handle TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id, deleted, created_at)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			file_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			blob_handle TEXT NOT NULL,
			size INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (file_id, chunk_index)
		)`,
	},
}

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

	fileColumns = []string{
		"id", "owner_id", "name", "content_type", "size", "created_at",
		"deleted", "chunked", "total_chunks", "blob_handle",
	}
	chunkColumns = []string{
		"file_id", "chunk_index", "blob_handle", "size", "checksum", "created_at",
	}
)

// SQLStore keeps records in MySQL/TiDB or SQLite through database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens the database and creates the schema if needed
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported metadata driver %q", driver)
	}

	if driver == DriverMySQL {
		normalized, err := withFoundRows(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateFileRecord implements Store.
func (s *SQLStore) CreateFileRecord(ctx context.Context, f *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "sql.create_file",
		trace.WithAttributes(
			attribute.String("file_id", f.ID),
			attribute.Int64("file_size", f.Size),
			attribute.Int("total_chunks", f.TotalChunks),
		),
	)
	defer span.End()

	query, args, err := psql.Insert("files").Columns(fileColumns...).Values(
		f.ID, f.OwnerID, f.Name, f.ContentType, f.Size, f.CreatedAt.UnixNano(),
		f.Deleted, f.Chunked, f.TotalChunks, f.BlobHandle,
	).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// UpdateFileRecord implements Store.
func (s *SQLStore) UpdateFileRecord(ctx context.Context, f *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "sql.update_file",
		trace.WithAttributes(attribute.String("file_id", f.ID)),
	)
	defer span.End()

	query, args, err := psql.Update("files").
		Set("name", f.Name).
		Set("content_type", f.ContentType).
		Set("size", f.Size).
		Set("deleted", f.Deleted).
		Set("chunked", f.Chunked).
		Set("total_chunks", f.TotalChunks).
		Set("blob_handle", f.BlobHandle).
		Where(sq.Eq{"id": f.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update file: %w", err)
	}
	return expectRows(res)
}

// SoftDeleteFileRecord implements Store.
func (s *SQLStore) SoftDeleteFileRecord(ctx context.Context, id, ownerID string) error {
	ctx, span := tracer.Start(ctx, "sql.soft_delete_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	query, args, err := psql.Update("files").
		Set("deleted", true).
		Where(sq.Eq{"id": id, "owner_id": ownerID, "deleted": false}).
		Where(sq.NotEq{"blob_handle": ""}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to soft-delete file: %w", err)
	}
	return expectRows(res)
}

// DeleteFileRecord implements Store.
func (s *SQLStore) DeleteFileRecord(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	query, args, err := psql.Delete("files").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetFileRecord implements Store.
func (s *SQLStore) GetFileRecord(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.get_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	query, args, err := psql.Select(fileColumns...).From("files").
		Where(sq.Eq{"id": id, "owner_id": ownerID, "deleted": false}).
		Where(sq.NotEq{"blob_handle": ""}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	f, err := scanFile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return f, nil
}

// ListFileRecords implements Store.
func (s *SQLStore) ListFileRecords(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.list_files")
	defer span.End()

	return s.queryFiles(ctx, psql.Select(fileColumns...).From("files").
		Where(sq.Eq{"owner_id": ownerID, "deleted": false}).
		Where(sq.NotEq{"blob_handle": ""}).
		OrderBy("created_at DESC", "id"))
}

// ListIncompleteFileRecords implements Store.
func (s *SQLStore) ListIncompleteFileRecords(ctx context.Context, before time.Time) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.list_incomplete_files")
	defer span.End()

	return s.queryFiles(ctx, psql.Select(fileColumns...).From("files").
		Where(sq.Eq{"blob_handle": "", "deleted": false}).
		Where(sq.Lt{"created_at": before.UnixNano()}).
		OrderBy("created_at"))
}

func (s *SQLStore) queryFiles(ctx context.Context, b sq.SelectBuilder) ([]*models.FileRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

// CreateChunkRecord implements Store.
func (s *SQLStore) CreateChunkRecord(ctx context.Context, c *models.ChunkRecord) error {
	ctx, span := tracer.Start(ctx, "sql.create_chunk",
		trace.WithAttributes(
			attribute.String("file_id", c.FileID),
			attribute.Int("chunk_index", c.Index),
		),
	)
	defer span.End()

	query, args, err := psql.Insert("chunks").Columns(chunkColumns...).Values(
		c.FileID, c.Index, c.BlobHandle, c.Size, c.Checksum, c.CreatedAt.UnixNano(),
	).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return fmt.Errorf("chunk %d of %s: %w", c.Index, c.FileID, ErrDuplicateChunk)
		}
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// ListChunkRecords implements Store.
func (s *SQLStore) ListChunkRecords(ctx context.Context, fileID string) ([]*models.ChunkRecord, error) {
	ctx, span := tracer.Start(ctx, "sql.list_chunks",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	query, args, err := psql.Select(chunkColumns...).From("chunks").
		Where(sq.Eq{"file_id": fileID}).
		OrderBy("chunk_index ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.ChunkRecord
	for rows.Next() {
		var (
			c       models.ChunkRecord
			created int64
		)
		if err := rows.Scan(&c.FileID, &c.Index, &c.BlobHandle, &c.Size, &c.Checksum, &created); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}

// DeleteChunkRecords implements Store.
func (s *SQLStore) DeleteChunkRecords(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_chunks",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	query, args, err := psql.Delete("chunks").Where(sq.Eq{"file_id": fileID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		f       models.FileRecord
		created int64
	)
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.Name,
		&f.ContentType,
		&f.Size,
		&created,
		&f.Deleted,
		&f.Chunked,
		&f.TotalChunks,
		&f.BlobHandle,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = time.Unix(0, created).UTC()
	return &f, nil
}

// withFoundRows makes MySQL report matched rather than changed rows, so an
// update that rewrites identical values still counts as found
func withFoundRows(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLStore)(nil)
