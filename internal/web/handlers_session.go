package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/session"
	"github.com/JonMunkholm/scansplit/internal/web/templates"
)

type createSessionRequest struct {
	Client    string `json:"cliente_por_defecto" validate:"max=200"`
	Subclient string `json:"subcliente_por_defecto" validate:"max=200"`
}

type createSessionResponse struct {
	SessionID string        `json:"session_id"`
	Status    events.Status `json:"status"`
}

// handleCreateSession creates a session with its default client labels.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.service.CreateSession(session.Meta{Client: req.Client, Subclient: req.Subclient})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: id, Status: events.StatusCreated})
}

// handleGetSession returns the session status as JSON, or as an HTML
// fragment for HTMX polling.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.SessionStatus(view).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type processRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type processResponse struct {
	OK             bool `json:"ok"`
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// handleProcess schedules a processing run. Progress is reported through
// the event stream.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.StartProcessing(r.Context(), req.SessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{OK: true, AlreadyRunning: res.AlreadyRunning})
}
