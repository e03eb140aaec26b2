package web

// errors.go maps the engine's failure taxonomy onto HTTP status codes.
// The technical error is logged with the request id; the client gets a
// sanitized message.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rejestr/bulkio/internal/core"
)

type errorBody struct {
	Error string `json:"error"`
}

// respondError logs err and writes the mapped JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrJobState), errors.Is(err, core.ErrReversal),
		errors.Is(err, core.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrBadRequest), errors.Is(err, core.ErrTenantScope),
		errors.Is(err, core.ErrUnknownField), core.IsParseError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
