package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/files"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
)

// maxUploadBytes caps a single multipart upload at 50 MiB
const maxUploadBytes = 50 << 20

// FileHandlers serves tenant file uploads and downloads. The response never
// exposes storage keys; downloads go through short-lived presigned URLs.
type FileHandlers struct {
	files *files.Service
	log   *logrus.Logger
}

// NewFileHandlers creates file handlers
func NewFileHandlers(fileService *files.Service, log *logrus.Logger) *FileHandlers {
	return &FileHandlers{files: fileService, log: log}
}

// RegisterRoutes registers file routes on the tenant subrouter
func (h *FileHandlers) RegisterRoutes(router *mux.Router, guards *middleware.Guards) {
	member := guards.RequireTenant()

	router.Handle("/files", member(http.HandlerFunc(h.upload))).Methods("POST")
	router.Handle("/files", member(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/files/{id:[0-9]+}", member(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/files/{id:[0-9]+}/download", member(http.HandlerFunc(h.downloadURL))).Methods("GET")
	router.Handle("/files/{id:[0-9]+}", member(http.HandlerFunc(h.delete))).Methods("DELETE")
}

func (h *FileHandlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file field")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	auth := middleware.GetAuthContext(r)
	stored, err := h.files.Upload(r.Context(), auth.Profile, header.Filename, file, header.Size, mimeType, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, stored)
}

func (h *FileHandlers) list(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuthContext(r)
	tenant := middleware.GetTenant(r)

	listed, err := h.files.ListForTenant(r.Context(), auth.Profile, tenant.ID, httputil.QueryInt(r, "limit", 0))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"files": listed, "count": len(listed)})
}

func (h *FileHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid file id")
		return
	}

	auth := middleware.GetAuthContext(r)
	stored, err := h.files.Get(r.Context(), auth.Profile, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, stored)
}

func (h *FileHandlers) downloadURL(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid file id")
		return
	}

	auth := middleware.GetAuthContext(r)
	url, err := h.files.DownloadURL(r.Context(), auth.Profile, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"url": url, "expires_in_seconds": int(files.DefaultPresignExpiry.Seconds())})
}

func (h *FileHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid file id")
		return
	}

	auth := middleware.GetAuthContext(r)
	if err := h.files.Delete(r.Context(), auth.Profile, id, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
