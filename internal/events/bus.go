// Package events provides the per-session progress log behind the SSE
// progress stream.
//
// Each session owns an append-only list of events and a status flag. The
// [Bus] is an explicit registry keyed by session id; nothing here is global.
// Readers consume the log through [Stream], which replays from an offset and
// then follows the live tail without holding the registry lock while idle.
package events

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for operations on a session id the bus
// does not know about (never initialized, or already evicted).
var ErrSessionNotFound = errors.New("event log: session not found")

// DefaultPingInterval is how long a stream waits without news before it
// emits a keep-alive frame.
const DefaultPingInterval = time.Second

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status is the processing state of a session.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further processing is expected for the status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Event is one entry of a session log. Index is the position in the log:
// the first event of a session is 0 and indices never skip.
type Event struct {
	Index   int       `json:"index"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

type sessionLog struct {
	events       []Event
	status       Status
	createdAt    time.Time
	lastActivity time.Time

	// changed is closed and replaced on every mutation so that waiting
	// streams wake up without polling.
	changed chan struct{}
}

func (l *sessionLog) notify() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Bus holds the event logs of every live session.
//
// A single mutex guards all sessions. Every critical section is a short
// append or read; streams never hold it while they wait.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog

	policy       EvictionPolicy
	pingInterval time.Duration
	now          func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithPingInterval sets the keep-alive interval used by streams.
func WithPingInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pingInterval = d
		}
	}
}

// WithEvictionPolicy sets the policy consulted by Sweep.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(b *Bus) {
		if p != nil {
			b.policy = p
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		sessions:     make(map[string]*sessionLog),
		policy:       NeverEvict,
		pingInterval: DefaultPingInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init registers a session with an empty log and status created.
// Calling Init for a session that already exists leaves it untouched.
func (b *Bus) Init(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[sessionID]; ok {
		return
	}
	now := b.now()
	b.sessions[sessionID] = &sessionLog{
		status:       StatusCreated,
		createdAt:    now,
		lastActivity: now,
		changed:      make(chan struct{}),
	}
}

// Push appends an event to the session log. The event index is the log
// length at the time of the append.
func (b *Bus) Push(sessionID string, level Level, message string) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.sessions[sessionID]
	if !ok {
		return Event{}, ErrSessionNotFound
	}

	now := b.now()
	evt := Event{
		Index:   len(l.events),
		Time:    now,
		Level:   level,
		Message: flattenMessage(message),
	}
	l.events = append(l.events, evt)
	l.lastActivity = now
	l.notify()
	return evt, nil
}

// SetStatus overwrites the session status.
func (b *Bus) SetStatus(sessionID string, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	l.status = status
	l.lastActivity = b.now()
	l.notify()
	return nil
}

// Status returns the session status, or StatusUnknown for unknown sessions.
func (b *Bus) Status(sessionID string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.sessions[sessionID]; ok {
		return l.status
	}
	return StatusUnknown
}

// TryBegin atomically moves the session into StatusRunning.
// It returns false, without changing anything, if a run is already active.
func (b *Bus) TryBegin(sessionID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if l.status == StatusRunning {
		return false, nil
	}
	l.status = StatusRunning
	l.lastActivity = b.now()
	l.notify()
	return true, nil
}

// Snapshot returns a copy of the session log and its status.
func (b *Bus) Snapshot(sessionID string) ([]Event, Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.sessions[sessionID]
	if !ok {
		return nil, StatusUnknown, ErrSessionNotFound
	}
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out, l.status, nil
}

// Has reports whether the session is registered.
func (b *Bus) Has(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok
}

// Remove drops a session log. Open streams on it end with ErrSessionNotFound.
func (b *Bus) Remove(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.sessions[sessionID]; ok {
		l.notify()
		delete(b.sessions, sessionID)
	}
}

// Sweep evicts every session the eviction policy reports as expired and
// returns their ids. Running sessions are never evicted.
func (b *Bus) Sweep(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted []string
	for id, l := range b.sessions {
		if l.status == StatusRunning {
			continue
		}
		info := SessionInfo{
			ID:           id,
			Status:       l.status,
			Events:       len(l.events),
			CreatedAt:    l.createdAt,
			LastActivity: l.lastActivity,
		}
		if b.policy.Expired(info, now) {
			l.notify()
			delete(b.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Publisher returns a handle that pushes events for a single session.
func (b *Bus) Publisher(sessionID string) Publisher {
	return Publisher{bus: b, sessionID: sessionID}
}

// flattenMessage keeps each event on a single SSE data line.
func flattenMessage(msg string) string {
	if !strings.ContainsAny(msg, "\r\n") {
		return msg
	}
	msg = strings.ReplaceAll(msg, "\r\n", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.ReplaceAll(msg, "\r", " ")
}
