package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/logging"
)

// streamStart returns the first event index to send. Both the from query
// parameter and the Last-Event-ID header name the last event the client
// already has, so streaming resumes right after it. The query parameter
// wins; a negative or absent value replays from the beginning.
func streamStart(r *http.Request) (int, error) {
	last := -1
	if v := strings.TrimSpace(r.Header.Get("Last-Event-ID")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			last = n
		}
	}
	from, err := parseIntParam(r, "from", last)
	if err != nil {
		return 0, err
	}
	if from < 0 {
		return 0, nil
	}
	return from + 1, nil
}

// handleEvents streams a session's events as server-sent events.
//
// Frames are "id: N\ndata: <ts>|<level>|<message>". When the session reaches
// a terminal status a final "data: status|<status>" frame is sent and the
// response ends. Idle periods carry ": ping" comments.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	start, err := streamStart(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	stream, err := s.service.Events(sessionID, start)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("event stream: flush unsupported", "error", err)
		return
	}

	m := s.service.Metrics()
	m.StreamOpened()
	defer m.StreamClosed()

	logger := logging.WithFields(r.Context(), "session_id", sessionID)
	logger.Debug("event stream opened", "start", start)

	for {
		frame, err := stream.Next(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("event stream finished", "cursor", stream.Cursor())
			case errors.Is(err, events.ErrSessionNotFound):
				logger.Info("event stream closed: session evicted")
			}
			return
		}
		if _, err := frame.WriteTo(w); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
