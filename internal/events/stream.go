package events

// stream.go implements resumable readers over a session log.
//
// A Stream replays every event from its start index, then follows the live
// tail. While idle it emits keep-alive frames; once the session reaches a
// terminal status and the cursor has caught up it emits a single status
// frame and ends with io.EOF.
//
// Streams only read shared state, so any number of them may follow the same
// session, each with its own cursor.

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// FrameKind tells what a Frame carries.
type FrameKind int

const (
	FrameEvent FrameKind = iota
	FramePing
	FrameStatus
)

// Frame is one unit produced by a Stream.
type Frame struct {
	Kind   FrameKind
	Event  Event  // FrameEvent only
	Status Status // FrameStatus only
	ID     int    // sequence id of the frame (event index, or next index for status)
}

// WriteTo encodes the frame in server-sent-events form:
//
//	id: 3
//	data: 1718000000.123456|info|message
//
// Status frames carry "data: status|done" and keep-alives are a comment line.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var s string
	switch f.Kind {
	case FrameEvent:
		s = fmt.Sprintf("id: %d\ndata: %s|%s|%s\n\n",
			f.Event.Index, formatTimestamp(f.Event.Time), f.Event.Level, f.Event.Message)
	case FrameStatus:
		s = fmt.Sprintf("id: %d\ndata: status|%s\n\n", f.ID, f.Status)
	default:
		s = ": ping\n\n"
	}
	n, err := io.WriteString(w, s)
	return int64(n), err
}

// formatTimestamp renders seconds since the epoch with microsecond precision.
func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// Stream is a cursor over one session log.
type Stream struct {
	bus       *Bus
	sessionID string
	cursor    int
	pending   []Event
	ping      time.Duration
	done      bool
}

// Stream opens a reader positioned at start. A negative start is treated
// as zero.
func (b *Bus) Stream(sessionID string, start int) (*Stream, error) {
	if !b.Has(sessionID) {
		return nil, ErrSessionNotFound
	}
	if start < 0 {
		start = 0
	}
	return &Stream{
		bus:       b,
		sessionID: sessionID,
		cursor:    start,
		ping:      b.pingInterval,
	}, nil
}

// Cursor returns the index of the next event the stream will emit.
func (s *Stream) Cursor() int {
	return s.cursor
}

// Next blocks until the next frame is available.
//
// It returns io.EOF after the terminal status frame, ctx.Err() when the
// context ends, and ErrSessionNotFound if the session is evicted while the
// stream is open.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	for {
		if len(s.pending) > 0 {
			evt := s.pending[0]
			s.pending = s.pending[1:]
			s.cursor = evt.Index + 1
			return Frame{Kind: FrameEvent, Event: evt, ID: evt.Index}, nil
		}

		s.bus.mu.Lock()
		l, ok := s.bus.sessions[s.sessionID]
		if !ok {
			s.bus.mu.Unlock()
			s.done = true
			return Frame{}, ErrSessionNotFound
		}
		if s.cursor < len(l.events) {
			// The log is append-only, so the capped sub-slice stays valid
			// after the lock is released.
			s.pending = l.events[s.cursor:len(l.events):len(l.events)]
		}
		status := l.status
		changed := l.changed
		s.bus.mu.Unlock()

		if len(s.pending) > 0 {
			continue
		}

		if status.Terminal() {
			s.done = true
			return Frame{Kind: FrameStatus, Status: status, ID: s.cursor}, nil
		}

		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		timer := time.NewTimer(s.ping)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return Frame{Kind: FramePing, ID: s.cursor}, nil
		}
	}
}
