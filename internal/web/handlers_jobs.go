package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rejestr/bulkio/internal/core"
)

func (s *Server) handleValidateImport(w http.ResponseWriter, r *http.Request) {
	var req core.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrBadRequest, err))
		return
	}
	req.Owner = firstNonEmpty(req.Owner, actor(r))

	job, report, err := s.service.ValidateImport(r.Context(), tenantID(r), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":  job.ID,
		"report": report,
	})
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req core.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrBadRequest, err))
		return
	}
	req.Owner = firstNonEmpty(req.Owner, actor(r))

	job, err := s.service.StartImport(r.Context(), tenantID(r), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	var spec core.ExportSpec
	if err := decodeJSON(r, &spec); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode body: %v", core.ErrBadRequest, err))
		return
	}

	job, err := s.service.StartExport(r.Context(), tenantID(r), actor(r), spec)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.service.ListJobs(r.Context(), tenantID(r), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.JobStatus(r.Context(), tenantID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJobErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	errs, err := s.service.ListRowErrors(r.Context(), tenantID(r), chi.URLParam(r, "jobID"), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelJob(r.Context(), tenantID(r), chi.URLParam(r, "jobID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteJob(r.Context(), tenantID(r), chi.URLParam(r, "jobID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJobResult streams a completed export's artifact.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	data, job, err := s.service.JobResult(r.Context(), tenantID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	ext := "csv"
	if job.Export != nil && job.Export.Format == core.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		ext = "xlsx"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "export-"+job.ID+"."+ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.service.RecentAuditEvents(r.Context(), tenantID(r), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
