package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rejestr/bulkio/internal/core"
)

// handleUploadFile accepts a multipart upload, stores it in blob storage
// and returns the fileRef later import commands refer to.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxFileSize); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: parse multipart form: %v", core.ErrBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: missing file field", core.ErrBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxFileSize+1))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	ref, err := s.service.UploadFile(r.Context(), tenantID(r), header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"fileRef":  ref,
		"fileName": header.Filename,
		"size":     len(data),
	})
}
