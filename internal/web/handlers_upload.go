package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/scansplit/internal/logging"
)

type uploadInitRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Filename  string `json:"filename" validate:"required,max=255"`
	TotalSize *int64 `json:"total_size" validate:"required"`
}

type uploadInitResponse struct {
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size"`
}

// handleUploadInit preallocates an upload and returns its id together with
// the chunk size clients should use.
func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req uploadInitRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	uploadID, err := s.service.InitUpload(req.SessionID, req.Filename, *req.TotalSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", req.SessionID, "upload_id", uploadID).
		Info("upload initialized", "filename", req.Filename, "total_size", *req.TotalSize)
	writeJSON(w, http.StatusOK, uploadInitResponse{UploadID: uploadID, ChunkSize: s.cfg.Upload.ChunkSize})
}

// handleUploadChunk writes one Content-Range chunk at its offset.
//
// Query: session_id, upload_id, filename, total_size.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	totalSize, err := strconv.ParseInt(q.Get("total_size"), 10, 64)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: total_size must be an integer", errInvalidRequest))
		return
	}

	// One byte of slack lets the receiver tell an oversized body apart
	// from an exact one.
	if max := s.cfg.Upload.MaxChunkSize; max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+1)
	}

	n, err := s.service.PutChunk(q.Get("session_id"), q.Get("upload_id"), q.Get("filename"),
		totalSize, r.Header.Get("Content-Range"), r.Body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": n})
}

// handleUploadComplete renames a finished upload into place.
//
// Query: session_id, upload_id, filename.
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, err := s.service.CompleteUpload(q.Get("session_id"), q.Get("upload_id"), q.Get("filename"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}
