package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts the file routes on r
func Register(r *mux.Router, svc FileService) {
	r.Handle("/files", NewWriteHandler(svc)).Methods(http.MethodPut)
	r.Handle("/files", NewListHandler(svc)).Methods(http.MethodGet)
	r.Handle("/files/{file_id}", NewInfoHandler(svc)).Methods(http.MethodGet)
	r.Handle("/files/{file_id}/content", NewReadHandler(svc)).Methods(http.MethodGet)
	r.Handle("/files/{file_id}", NewDeleteHandler(svc)).Methods(http.MethodDelete)
}
