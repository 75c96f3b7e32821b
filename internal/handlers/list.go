package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/chunkvault/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ListResponse wraps the caller's files
type ListResponse struct {
	Files []models.FileDescriptor `json:"files"`
}

// ListHandler lists the caller's files
type ListHandler struct {
	files FileService
}

// NewListHandler creates a new list handler
func NewListHandler(svc FileService) *ListHandler {
	return &ListHandler{files: svc}
}

// ServeHTTP handles GET /files
func (lh *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_files",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := lh.files.ListFiles(ctx, owner)
	if err != nil {
		span.RecordError(err)
		writeError(w, r.WithContext(ctx), err)
		return
	}
	span.SetAttributes(attribute.Int("file_count", len(list)))
	writeJSON(w, http.StatusOK, ListResponse{Files: list})
}

// InfoHandler returns one file's descriptor
type InfoHandler struct {
	files FileService
}

// NewInfoHandler creates a new info handler
func NewInfoHandler(svc FileService) *InfoHandler {
	return &InfoHandler{files: svc}
}

// ServeHTTP handles GET /files/{file_id}
func (ih *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "file_info",
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

	desc, err := ih.files.GetFile(ctx, fileID, owner)
	if err != nil {
		span.RecordError(err)
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}
