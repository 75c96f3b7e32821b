package handlers

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReadHandler streams file content
type ReadHandler struct {
	files FileService
}

// NewReadHandler creates a new read handler
func NewReadHandler(svc FileService) *ReadHandler {
	return &ReadHandler{files: svc}
}

// ServeHTTP handles GET /files/{file_id}/content
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fileID := mux.Vars(r)["file_id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	dl, err := rh.files.DownloadFile(ctx, fileID, owner)
	if err != nil {
		span.RecordError(err)
		writeError(w, r.WithContext(ctx), err)
		return
	}
	defer dl.Body.Close()

	span.SetAttributes(
		attribute.String("file_name", dl.Name),
		attribute.Int64("file_size", dl.Size),
	)

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, dl.Body)
	if err != nil {
		// headers are gone; the short body tells the client
		span.RecordError(err)
		slog.ErrorContext(ctx, "download interrupted", "file_id", fileID, "sent", n, "error", err)
		return
	}
	slog.DebugContext(ctx, "file read completed", "file_id", fileID, "size", n)
}
