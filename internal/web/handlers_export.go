package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/scansplit/internal/export"
	"github.com/JonMunkholm/scansplit/internal/history"
	"github.com/JonMunkholm/scansplit/internal/logging"
	"github.com/JonMunkholm/scansplit/internal/report"
)

// maxHistoryLimit caps the limit query parameter of the history endpoint.
const maxHistoryLimit = 1000

// handleResultsZip downloads the bucket files as a zip archive.
func (s *Server) handleResultsZip(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, "zip", "application/zip", s.service.WriteZip)
}

// handleResultsWorkbook downloads the bucket files as one xlsx workbook.
func (s *Server) handleResultsWorkbook(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, "xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", s.service.WriteWorkbook)
}

// download checks that results exist before committing headers, since
// errors after the first byte can only be logged.
func (s *Server) download(w http.ResponseWriter, r *http.Request, ext, contentType string,
	write func(sessionID string, w io.Writer) error) {
	sessionID := chi.URLParam(r, "sessionID")

	ok, err := s.service.HasResults(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		s.respondError(w, r, export.ErrNoResults)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results_%s.%s"`, sessionID, ext))
	if err := write(sessionID, w); err != nil {
		logging.WithFields(r.Context(), "session_id", sessionID).
			Error("results download interrupted", "format", ext, "error", err)
	}
}

type ingestRequest struct {
	T1Normal   string `json:"t1_normal_index" validate:"omitempty,lowercase,max=255"`
	T1Adjusted string `json:"t1_ajustada_index" validate:"omitempty,lowercase,max=255"`
	T2Normal   string `json:"t2_normal_index" validate:"omitempty,lowercase,max=255"`
	T2Adjusted string `json:"t2_ajustada_index" validate:"omitempty,lowercase,max=255"`
}

func (req ingestRequest) indices() map[report.Bucket]string {
	out := make(map[report.Bucket]string, 4)
	for b, name := range map[report.Bucket]string{
		report.T1Normal:   req.T1Normal,
		report.T1Adjusted: req.T1Adjusted,
		report.T2Normal:   req.T2Normal,
		report.T2Adjusted: req.T2Adjusted,
	} {
		if name != "" {
			out[b] = name
		}
	}
	return out
}

// handleIngest bulk-loads the session's bucket files into the search
// cluster. The body may override the index of each bucket.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	stats, err := s.service.Ingest(r.Context(), chi.URLParam(r, "sessionID"), req.indices())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

// handlePublish copies the session's bucket files to object storage.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	keys, err := s.service.Publish(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "keys": keys})
}

// handleHistory lists recorded file outcomes, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit, err := parseIntParam(r, "limit", history.DefaultListLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = history.DefaultListLimit
	}

	runs, err := s.service.History(r.Context(), sessionID, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "runs": runs})
}
