package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeleteHandler handles file deletion requests
type DeleteHandler struct {
	files FileService
}

// NewDeleteHandler creates a new delete handler
func NewDeleteHandler(svc FileService) *DeleteHandler {
	return &DeleteHandler{files: svc}
}

// ServeHTTP handles DELETE /files/{file_id}
func (dh *DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_file",
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

	if err := dh.files.DeleteFile(ctx, fileID, owner); err != nil {
		span.RecordError(err)
		writeError(w, r.WithContext(ctx), err)
		return
	}
	slog.InfoContext(ctx, "file deleted", "file_id", fileID)
	w.WriteHeader(http.StatusNoContent)
}
