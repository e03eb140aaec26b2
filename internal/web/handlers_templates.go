package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rejestr/bulkio/internal/core"
)

type createTemplateRequest struct {
	Name    string             `json:"name"`
	Columns core.ColumnMapping `json:"columns"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrBadRequest, err))
		return
	}
	if req.Name == "" {
		s.respondError(w, r, fmt.Errorf("%w: missing template name", core.ErrBadRequest))
		return
	}

	tpl, err := s.service.CreateTemplate(r.Context(), tenantID(r), actor(r), req.Name, req.Columns)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context(), tenantID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), tenantID(r), actor(r), chi.URLParam(r, "templateID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
