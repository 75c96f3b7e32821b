package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/maneesh/chunkvault/internal/files"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WriteHandler handles file upload requests
type WriteHandler struct {
	files FileService
}

// NewWriteHandler creates a new write handler
func NewWriteHandler(svc FileService) *WriteHandler {
	return &WriteHandler{files: svc}
}

// ServeHTTP handles PUT /files?name=filename
func (wh *WriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "write_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	defer r.Body.Close()

	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := r.URL.Query().Get("name")
	if filename == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "missing 'name' query parameter"})
		return
	}
	if r.ContentLength < 0 {
		writeJSON(w, http.StatusLengthRequired, ErrorResponse{Error: "invalid_input", Message: "Content-Length is required"})
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	span.SetAttributes(
		attribute.String("file_name", filename),
		attribute.Int64("file_size", r.ContentLength),
	)

	desc, err := wh.files.UploadFile(ctx, r.Body, r.ContentLength, filename, contentType, owner)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, files.ErrSizeMismatch) {
			// the body was cut short or ran long; the connection is not reusable
			w.Header().Set("Connection", "close")
		}
		writeError(w, r.WithContext(ctx), err)
		return
	}

	span.SetAttributes(attribute.String("file_id", desc.ID))
	slog.InfoContext(ctx, "file uploaded", "file_id", desc.ID, "file_name", desc.Name, "size", desc.Size)
	writeJSON(w, http.StatusCreated, desc)
}
