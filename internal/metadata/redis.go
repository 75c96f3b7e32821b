package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/chunkvault/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCacheTTL is the time-to-live for cached file records
	DefaultCacheTTL = 5 * time.Minute
)

// RedisCache caches file records in Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache initializes a new Redis client and checks the connection
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Keys share a hash tag on the file id so the scripts below touch a single
// slot. The owner is part of the record key; a lookup under another owner
// is a plain miss.
func fileKey(fileID, ownerID string) string {
	return fmt.Sprintf("file:{%s}:%s", fileID, ownerID)
}

func tombstoneKey(fileID string) string {
	return fmt.Sprintf("file:{%s}:deleted", fileID)
}

var (
	// KEYS[1] record, KEYS[2] tombstone
	getScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return false
end
return redis.call("GET", KEYS[1])
`)
	// ARGV[1] payload, ARGV[2] ttl in milliseconds
	setScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)
)

// GetFileRecord returns the cached record, or nil on a miss. A tombstoned
// file is always a miss.
func (rc *RedisCache) GetFileRecord(ctx context.Context, fileID, ownerID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	data, err := getScript.Run(ctx, rc.client, []string{fileKey(fileID, ownerID), tombstoneKey(fileID)}).Text()
	if err == redis.Nil {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var file models.FileRecord
	if err := json.Unmarshal([]byte(data), &file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &file, nil
}

// SetFileRecord stores a record in the cache unless the file has been
// tombstoned
func (rc *RedisCache) SetFileRecord(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_file_record",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(file)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal file: %w", err)
	}

	keys := []string{fileKey(file.ID, file.OwnerID), tombstoneKey(file.ID)}
	stored, err := setScript.Run(ctx, rc.client, keys, data, rc.ttl.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("tombstoned", stored == 0),
		attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())),
	)
	return nil
}

// InvalidateFileRecord removes a record from the cache
func (rc *RedisCache) InvalidateFileRecord(ctx context.Context, fileID, ownerID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, fileKey(fileID, ownerID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// TombstoneFileRecord hides every cached copy of a file and refuses new ones
// for one TTL, which outlives any record cached before it was written.
func (rc *RedisCache) TombstoneFileRecord(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.tombstone_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if err := rc.client.Set(ctx, tombstoneKey(fileID), 1, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to tombstone cache entry: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
