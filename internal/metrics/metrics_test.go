package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()

	OperationsTotal.WithLabelValues("upload", StatusSuccess).Inc()
	OperationDuration.WithLabelValues("upload").Observe(0.01)
	ChunkSize.Observe(1024)
	BlobRetriesTotal.WithLabelValues("put").Inc()
	CleanupFailuresTotal.WithLabelValues("rollback").Inc()
}

func TestOperationsCounter(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("delete", StatusError))
	OperationsTotal.WithLabelValues("delete", Status(errors.New("boom"))).Inc()
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues("delete", StatusError))
	if after-before != 1 {
		t.Errorf("counter delta = %v, want 1", after-before)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != StatusSuccess {
		t.Error("nil error should map to success")
	}
	if Status(errors.New("x")) != StatusError {
		t.Error("non-nil error should map to error")
	}
}
