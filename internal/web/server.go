// Package web exposes the engine over a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rejestr/bulkio/internal/config"
	"github.com/rejestr/bulkio/internal/core"
	"github.com/rejestr/bulkio/internal/telemetry"
)

// Server is the HTTP front end over the core service.
type Server struct {
	service     *core.Service
	router      *chi.Mux
	server      *http.Server
	maxFileSize int64
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg config.EngineConfig) *Server {
	s := &Server{
		service:     service,
		router:      chi.NewRouter(),
		maxFileSize: cfg.MaxFileSize,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(requireTenant)

		// File upload
		r.Post("/files", s.handleUploadFile)

		// Imports and exports
		r.Post("/imports/validate", s.handleValidateImport)
		r.Post("/imports", s.handleStartImport)
		r.Post("/exports", s.handleStartExport)

		// Job registry
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/errors", s.handleJobErrors)
		r.Get("/jobs/{jobID}/result", s.handleJobResult)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)

		// Mapping templates
		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates", s.handleCreateTemplate)
		r.Delete("/templates/{templateID}", s.handleDeleteTemplate)

		// Bulk mutations
		r.Post("/mutations", s.handleExecuteMutation)
		r.Get("/mutations/{mutationID}", s.handleGetMutation)
		r.Post("/mutations/{mutationID}/reverse", s.handleReverseMutation)

		// Target field registry, for mapping UIs
		r.Get("/fields", s.handleListFields)

		// Audit trail
		r.Get("/audit", s.handleListAudit)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(cfg config.ServerConfig) error {
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	slog.Info("starting server", "addr", cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": core.TargetFields()})
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
