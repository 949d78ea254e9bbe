package core

// scheduler.go runs periodic maintenance in the background.
//
// Each pass:
//  1. Evicts idle session logs from the event bus (per its eviction policy)
//  2. Deletes session directories older than the data retention, if set
//
// The janitor is long-running and stops when its context is cancelled.
// Individual failures are logged and never stop the loop.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/scansplit/internal/events"
)

// JanitorConfig holds configuration for the maintenance loop.
type JanitorConfig struct {
	Interval  time.Duration // How often to run (default: 1m)
	Retention time.Duration // Session data age before deletion (0 keeps data)
}

// StartJanitor runs one maintenance pass immediately, then every Interval,
// until ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	slog.Info("janitor started",
		"interval", cfg.Interval,
		"retention", cfg.Retention,
	)

	s.runJanitor(time.Now(), cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case now := <-ticker.C:
			s.runJanitor(now, cfg)
		}
	}
}

// runJanitor performs one maintenance pass.
func (s *Service) runJanitor(now time.Time, cfg JanitorConfig) {
	if evicted := s.bus.Sweep(now); len(evicted) > 0 {
		slog.Info("evicted idle session logs", "count", len(evicted))
	}

	if cfg.Retention <= 0 {
		return
	}
	purged, err := s.purgeSessions(now, cfg.Retention)
	if err != nil {
		slog.Error("session purge failed", "error", err)
	}
	if purged > 0 {
		slog.Info("purged expired sessions", "count", purged)
	}
}

// purgeSessions removes sessions created more than retention ago. Sessions
// with an active run are skipped.
func (s *Service) purgeSessions(now time.Time, retention time.Duration) (int, error) {
	ids, err := s.store.List()
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, id := range ids {
		if s.bus.Status(id) == events.StatusRunning {
			continue
		}
		meta, err := s.store.Meta(id)
		if err != nil {
			slog.Warn("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		if now.Sub(meta.CreatedAt) <= retention {
			continue
		}
		if err := s.store.Remove(id); err != nil {
			slog.Warn("remove session failed", "session_id", id, "error", err)
			continue
		}
		s.bus.Remove(id)
		purged++
	}
	return purged, nil
}
