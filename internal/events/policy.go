package events

import (
	"fmt"
	"log/slog"
	"time"
)

// SessionInfo is the view of a session an EvictionPolicy decides on.
type SessionInfo struct {
	ID           string
	Status       Status
	Events       int
	CreatedAt    time.Time
	LastActivity time.Time
}

// EvictionPolicy decides when a session log can be dropped.
type EvictionPolicy interface {
	Expired(info SessionInfo, now time.Time) bool
}

// EvictionFunc adapts a function to EvictionPolicy.
type EvictionFunc func(info SessionInfo, now time.Time) bool

// Expired implements EvictionPolicy.
func (f EvictionFunc) Expired(info SessionInfo, now time.Time) bool {
	return f(info, now)
}

// NeverEvict keeps every session for the life of the process.
var NeverEvict EvictionPolicy = EvictionFunc(func(SessionInfo, time.Time) bool { return false })

// IdleTTL expires sessions that saw no activity for longer than ttl.
// A non-positive ttl disables eviction.
func IdleTTL(ttl time.Duration) EvictionPolicy {
	if ttl <= 0 {
		return NeverEvict
	}
	return EvictionFunc(func(info SessionInfo, now time.Time) bool {
		return now.Sub(info.LastActivity) > ttl
	})
}

// Publisher pushes events for one session. It satisfies the progress
// interfaces of the parser and the orchestrator.
type Publisher struct {
	bus       *Bus
	sessionID string
}

// Push appends an event. Pushing to an evicted session is logged and dropped.
func (p Publisher) Push(level Level, message string) {
	if p.bus == nil {
		return
	}
	if _, err := p.bus.Push(p.sessionID, level, message); err != nil {
		slog.Warn("event dropped",
			"session_id", p.sessionID,
			"level", string(level),
			"error", err,
		)
	}
}

// Pushf formats and appends an event.
func (p Publisher) Pushf(level Level, format string, args ...any) {
	p.Push(level, fmt.Sprintf(format, args...))
}

// SessionID returns the session the publisher writes to.
func (p Publisher) SessionID() string {
	return p.sessionID
}
