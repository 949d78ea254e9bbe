package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/export"
	"github.com/JonMunkholm/scansplit/internal/history"
	"github.com/JonMunkholm/scansplit/internal/indexer"
	"github.com/JonMunkholm/scansplit/internal/report"
	"github.com/JonMunkholm/scansplit/internal/session"
)

// resultsDir returns the output directory of a session whose bucket files
// are settled. Bucket writers are buffered, so nothing reads them mid-run.
func (s *Service) resultsDir(sessionID string) (string, error) {
	dir, err := s.store.OutputDir(sessionID)
	if err != nil {
		return "", err
	}
	if s.bus.Status(sessionID) == events.StatusRunning {
		return "", ErrRunInProgress
	}
	return dir, nil
}

// WriteZip streams the session's bucket files as a zip archive.
func (s *Service) WriteZip(sessionID string, w io.Writer) error {
	dir, err := s.resultsDir(sessionID)
	if err != nil {
		return err
	}
	_, err = export.WriteZip(w, dir)
	return err
}

// WriteWorkbook streams the session's bucket files as an xlsx workbook.
func (s *Service) WriteWorkbook(sessionID string, w io.Writer) error {
	dir, err := s.resultsDir(sessionID)
	if err != nil {
		return err
	}
	return export.WriteWorkbook(w, dir)
}

// HasResults reports whether the session has at least one bucket file.
// Handlers check it before committing a download response. It fails with
// ErrRunInProgress while a run is active.
func (s *Service) HasResults(sessionID string) (bool, error) {
	dir, err := s.resultsDir(sessionID)
	if err != nil {
		return false, err
	}
	return export.HasResults(dir)
}

// Ingest bulk-loads the session's bucket files. Per-index overrides in
// indices take precedence over the configured names.
func (s *Service) Ingest(ctx context.Context, sessionID string, indices map[report.Bucket]string) (map[report.Bucket]indexer.BucketStats, error) {
	if s.indexer == nil {
		return nil, ErrIndexingDisabled
	}
	dir, err := s.resultsDir(sessionID)
	if err != nil {
		return nil, err
	}

	merged := make(map[report.Bucket]string, len(report.Buckets))
	for b, name := range s.indices {
		merged[b] = name
	}
	for b, name := range indices {
		if name != "" {
			merged[b] = name
		}
	}

	s.ensureLog(sessionID)
	pub := s.bus.Publisher(sessionID)

	stats, err := s.indexer.Ingest(ctx, dir, merged)
	for b, st := range stats {
		s.metrics.Indexed(string(b), st.Sent)
		if st.Failed > 0 {
			pub.Pushf(events.LevelWarning, "Index %s rejected %d of %d document(s)", b, st.Failed, st.Sent)
		}
	}
	if err != nil {
		pub.Pushf(events.LevelError, "Indexing failed: %v", err)
		return stats, err
	}

	pub.Pushf(events.LevelSuccess, "Indexing finished: %s", formatStats(stats))
	slog.Info("indexing finished", "session_id", sessionID, "stats", formatStats(stats))
	return stats, nil
}

func formatStats(stats map[report.Bucket]indexer.BucketStats) string {
	parts := make([]string, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		parts = append(parts, fmt.Sprintf("%s=%d", b, stats[b].Sent))
	}
	return strings.Join(parts, ", ")
}

// Publish copies the session's bucket files to object storage.
func (s *Service) Publish(ctx context.Context, sessionID string) ([]string, error) {
	if s.publisher == nil {
		return nil, export.ErrPublishDisabled
	}
	dir, err := s.resultsDir(sessionID)
	if err != nil {
		return nil, err
	}

	keys, err := s.publisher.Publish(ctx, sessionID, dir)
	s.metrics.Published(len(keys))
	if err != nil {
		return keys, err
	}

	s.ensureLog(sessionID)
	s.bus.Publisher(sessionID).Pushf(events.LevelSuccess, "Published %d file(s)", len(keys))
	return keys, nil
}

// History lists the recorded file outcomes of a session, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.Entry, error) {
	if !s.store.Exists(sessionID) {
		return nil, session.ErrNotFound
	}
	return s.history.List(ctx, sessionID, limit)
}
