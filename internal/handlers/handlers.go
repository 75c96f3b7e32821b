// Package handlers is the HTTP surface over the files service.
//
// Callers are identified by the X-Owner-ID header set by the gateway in
// front of this service. Failures are rendered as a JSON error kind plus a
// generic message; backend detail stays in the logs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/maneesh/chunkvault/internal/files"
	"github.com/maneesh/chunkvault/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("chunkvault-handlers")

// OwnerHeader carries the authenticated caller id
const OwnerHeader = "X-Owner-ID"

// FileService is the part of files.Service the handlers use
type FileService interface {
	UploadFile(ctx context.Context, r io.Reader, size int64, name, contentType, ownerID string) (models.FileDescriptor, error)
	DownloadFile(ctx context.Context, id, ownerID string) (*files.Download, error)
	DeleteFile(ctx context.Context, id, ownerID string) error
	GetFile(ctx context.Context, id, ownerID string) (models.FileDescriptor, error)
	ListFiles(ctx context.Context, ownerID string) ([]models.FileDescriptor, error)
}

var errNoOwner = errors.New("missing " + OwnerHeader + " header")

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func ownerID(r *http.Request) (string, error) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		return "", errNoOwner
	}
	return owner, nil
}

func statusFor(kind files.Kind) int {
	switch kind {
	case files.KindEmptyInput, files.KindInvalidInput:
		return http.StatusBadRequest
	case files.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case files.KindNotFound:
		return http.StatusNotFound
	case files.KindTransient:
		return http.StatusServiceUnavailable
	case files.KindPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError logs err in full and sends the caller only its kind
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNoOwner) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: err.Error()})
		return
	}

	kind := files.KindOf(err)
	status := statusFor(kind)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", kind.String(),
		"error", err,
	)
	writeJSON(w, status, ErrorResponse{Error: kind.String(), Message: kind.Message()})
}
