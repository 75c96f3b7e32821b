package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	LogLevel    string
	LogFormat   string

	// Engine configuration
	ChunkSizeMB        int
	ReadAhead          int
	RetryMax           int
	RetryInitial       time.Duration
	RetryMaxInterval   time.Duration
	ReconcileInterval  time.Duration
	ReconcileOlderThan time.Duration

	// Blob backend configuration
	BlobBackend      string
	BlobMaxPayloadMB int

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// S3 configuration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	S3EndpointURL string
	S3PathStyle   bool
	S3AccessKey   string
	S3SecretKey   string

	// Metadata configuration
	MetadataDriver string
	SQLitePath     string
	TiDBHost       string
	TiDBPort       string
	TiDBUser       string
	TiDBPassword   string
	TiDBDatabase   string

	// Redis configuration
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Jaeger configuration
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first if present;
// real environment variables win over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "chunkvault"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		// Engine defaults
		ChunkSizeMB:        getEnvAsInt("CHUNK_SIZE_MB", 40),
		ReadAhead:          getEnvAsInt("DOWNLOAD_READ_AHEAD", 0),
		RetryMax:           getEnvAsInt("RETRY_MAX", 3),
		RetryInitial:       getEnvAsDuration("RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
		RetryMaxInterval:   getEnvAsDuration("RETRY_MAX_INTERVAL", 5*time.Second),
		ReconcileInterval:  getEnvAsDuration("RECONCILE_INTERVAL", 0),
		ReconcileOlderThan: getEnvAsDuration("RECONCILE_OLDER_THAN", time.Hour),

		// Blob backend defaults
		BlobBackend:      getEnv("BLOB_BACKEND", "minio"),
		BlobMaxPayloadMB: getEnvAsInt("BLOB_MAX_PAYLOAD_MB", 50),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "chunkvault"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// S3 defaults
		S3Bucket:      getEnv("S3_BUCKET", "chunkvault"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Prefix:      getEnv("S3_PREFIX", ""),
		S3EndpointURL: getEnv("S3_ENDPOINT_URL", ""),
		S3PathStyle:   getEnvAsBool("S3_PATH_STYLE", false),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),

		// Metadata defaults
		MetadataDriver: getEnv("METADATA_DRIVER", "mysql"),
		SQLitePath:     getEnv("SQLITE_PATH", "chunkvault.db"),
		TiDBHost:       getEnv("TIDB_HOST", "localhost"),
		TiDBPort:       getEnv("TIDB_PORT", "4000"),
		TiDBUser:       getEnv("TIDB_USER", "root"),
		TiDBPassword:   getEnv("TIDB_PASSWORD", ""),
		TiDBDatabase:   getEnv("TIDB_DATABASE", "chunkvault"),

		// Redis defaults
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisTTL:      getEnvAsDuration("REDIS_TTL", 5*time.Minute),

		// Jaeger defaults
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that would otherwise fail deep inside the engine
func (c *Config) Validate() error {
	if c.ChunkSizeMB <= 0 {
		return fmt.Errorf("CHUNK_SIZE_MB must be positive, got %d", c.ChunkSizeMB)
	}
	// the chunk size must leave room under the backend ceiling for protocol overhead
	if c.ChunkSizeMB >= c.BlobMaxPayloadMB {
		return fmt.Errorf("CHUNK_SIZE_MB (%d) must be smaller than BLOB_MAX_PAYLOAD_MB (%d)", c.ChunkSizeMB, c.BlobMaxPayloadMB)
	}
	if c.ReadAhead < 0 {
		return fmt.Errorf("DOWNLOAD_READ_AHEAD must not be negative, got %d", c.ReadAhead)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative, got %d", c.RetryMax)
	}

	switch c.BlobBackend {
	case "minio", "s3", "memory":
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	switch c.MetadataDriver {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown METADATA_DRIVER %q", c.MetadataDriver)
	}
	return nil
}

// GetDSN returns the connection string for the configured metadata driver
func (c *Config) GetDSN() string {
	if c.MetadataDriver == "sqlite" {
		return c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	// clientFoundRows makes UPDATE report matched rather than changed rows
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&clientFoundRows=true",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetBlobMaxPayloadBytes returns the backend payload ceiling in bytes
func (c *Config) GetBlobMaxPayloadBytes() int64 {
	return int64(c.BlobMaxPayloadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
