package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkvault/internal/config"
	"github.com/maneesh/chunkvault/internal/files"
	"github.com/maneesh/chunkvault/internal/handlers"
	"github.com/maneesh/chunkvault/internal/logging"
	"github.com/maneesh/chunkvault/internal/metadata"
	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/storage"
	"github.com/maneesh/chunkvault/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName, os.Stderr)
	slog.Info("starting chunkvault", "port", cfg.ServicePort, "blob_backend", cfg.BlobBackend, "metadata", cfg.MetadataDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.JaegerEndpoint, cfg.TracingEnabled)
	if err != nil {
		fatal("failed to initialize tracer", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("error shutting down tracer", "error", err)
		}
	}()

	metrics.Register()

	blobs, err := openBlobBackend(ctx, cfg)
	if err != nil {
		fatal("failed to initialize blob backend", err)
	}

	store, closeStore, err := openMetadataStore(ctx, cfg)
	if err != nil {
		fatal("failed to initialize metadata store", err)
	}
	defer closeStore()

	svc, err := files.New(blobs, store, files.Options{
		MaxChunkSize: cfg.GetChunkSizeBytes(),
		ReadAhead:    cfg.ReadAhead,
		Retry: files.RetryPolicy{
			MaxRetries:      uint64(cfg.RetryMax),
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMaxInterval,
		},
	})
	if err != nil {
		fatal("failed to initialize file service", err)
	}

	if cfg.ReconcileInterval > 0 {
		go svc.RunReconciler(ctx, cfg.ReconcileInterval, cfg.ReconcileOlderThan)
		slog.Info("reconciler started", "interval", cfg.ReconcileInterval, "older_than", cfg.ReconcileOlderThan)
	}

	// Setup HTTP router
	router := mux.NewRouter()

	// Health and metrics endpoints (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// File operations with tracing
	api := router.NewRoute().Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "files",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if route := mux.CurrentRoute(r); route != nil {
					if tpl, err := route.GetPathTemplate(); err == nil {
						return r.Method + " " + tpl
					}
				}
				return r.Method
			}),
		)
	})
	handlers.Register(api, svc)

	// Uploads and downloads of large files stream for a long time, so only
	// the header read is bounded.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exited")
}

func openBlobBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	limit := cfg.GetBlobMaxPayloadBytes()
	switch cfg.BlobBackend {
	case "s3":
		slog.Info("connecting to S3", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		return storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			EndpointURL:     cfg.S3EndpointURL,
			UsePathStyle:    cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			MaxPayloadSize:  limit,
		})
	case "memory":
		slog.Warn("using in-memory blob backend, content is lost on restart")
		return storage.NewMemoryBackend(limit), nil
	default:
		slog.Info("connecting to MinIO", "endpoint", cfg.MinIOEndpoint, "bucket", cfg.MinIOBucketName)
		return storage.NewMinioBackend(ctx, storage.MinioConfig{
			Endpoint:       cfg.MinIOEndpoint,
			AccessKey:      cfg.MinIOAccessKey,
			SecretKey:      cfg.MinIOSecretKey,
			BucketName:     cfg.MinIOBucketName,
			UseSSL:         cfg.MinIOUseSSL,
			MaxPayloadSize: limit,
		})
	}
}

// openMetadataStore returns the configured store, wrapped in the Redis cache
// when enabled, and a func closing everything it opened.
func openMetadataStore(ctx context.Context, cfg *config.Config) (metadata.Store, func(), error) {
	var (
		store   metadata.Store
		closers []io.Closer
	)
	switch cfg.MetadataDriver {
	case "memory":
		slog.Warn("using in-memory metadata store, records are lost on restart")
		store = metadata.NewMemoryStore()
	default:
		driver := metadata.DriverMySQL
		if cfg.MetadataDriver == "sqlite" {
			driver = metadata.DriverSQLite
		}
		slog.Info("connecting to metadata database", "driver", driver)
		sqlStore, err := metadata.OpenSQLStore(ctx, driver, cfg.GetDSN())
		if err != nil {
			return nil, nil, err
		}
		store = sqlStore
		closers = append(closers, sqlStore)
	}

	if cfg.RedisEnabled {
		slog.Info("connecting to Redis", "addr", cfg.GetRedisAddr())
		cache, err := metadata.NewRedisCache(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		store = metadata.NewCachedStore(store, cache)
		closers = append(closers, cache)
	}

	return store, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Error("error closing metadata store", "error", err)
			}
		}
	}, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
