package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rejestr/bulkio/internal/core"
)

type executeMutationRequest struct {
	ClientIDs []string           `json:"clientIds"`
	Operation core.BulkOperation `json:"operation"`
}

func (s *Server) handleExecuteMutation(w http.ResponseWriter, r *http.Request) {
	var req executeMutationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrBadRequest, err))
		return
	}

	result, err := s.service.ExecuteBulkMutation(r.Context(), tenantID(r), actor(r), req.ClientIDs, req.Operation)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetMutation(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetMutation(r.Context(), tenantID(r), chi.URLParam(r, "mutationID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReverseMutation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "mutationID")
	if err := s.service.ReverseBulkMutation(r.Context(), tenantID(r), actor(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reversed"})
}
