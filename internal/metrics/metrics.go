// Package metrics defines the Prometheus collectors for chunkvault.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// chunkBuckets cover small single-blob uploads up to the 40MB default chunk.
var chunkBuckets = []float64{1024, 16384, 262144, 1048576, 4194304, 16777216, 41943040, 67108864}

// Operation outcomes, used as the "status" label.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// OperationsTotal counts engine operations by name and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_operations_total",
			Help: "File operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration observes engine operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkvault_operation_duration_seconds",
			Help:    "File operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ChunksStoredTotal counts blobs written, one per chunk.
	ChunksStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_chunks_stored_total",
			Help: "Chunk blobs written to the backend",
		},
	)

	// ChunksFetchedTotal counts blobs read back during downloads.
	ChunksFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_chunks_fetched_total",
			Help: "Chunk blobs read from the backend",
		},
	)

	// ChunkSize observes the payload size of each stored chunk.
	ChunkSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunkvault_chunk_size_bytes",
			Help:    "Size of stored chunk payloads in bytes",
			Buckets: chunkBuckets,
		},
	)

	// BytesUploadedTotal counts file bytes accepted by finalized uploads.
	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_bytes_uploaded_total",
			Help: "Bytes of successfully uploaded files",
		},
	)

	// BytesDownloadedTotal counts bytes streamed to download callers.
	BytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_bytes_downloaded_total",
			Help: "Bytes streamed to download callers",
		},
	)

	// BlobRetriesTotal counts retries of transient backend failures by blob operation.
	BlobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_blob_retries_total",
			Help: "Retried transient blob backend failures",
		},
		[]string{"op"},
	)

	// CleanupFailuresTotal counts blobs that could not be removed during
	// rollback, deletion or reconciliation.
	CleanupFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkvault_cleanup_failures_total",
			Help: "Blobs left behind after best-effort cleanup",
		},
		[]string{"reason"},
	)

	// ReconciledTotal counts incomplete records removed by the reconciler.
	ReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkvault_reconciled_records_total",
			Help: "Incomplete file records removed by reconciliation",
		},
	)
)

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			ChunksStoredTotal,
			ChunksFetchedTotal,
			ChunkSize,
			BytesUploadedTotal,
			BytesDownloadedTotal,
			BlobRetriesTotal,
			CleanupFailuresTotal,
			ReconciledTotal,
		)
	})
}

// Status maps an operation error to its status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
