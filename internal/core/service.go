package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/history"
	"github.com/JonMunkholm/scansplit/internal/indexer"
	"github.com/JonMunkholm/scansplit/internal/metrics"
	"github.com/JonMunkholm/scansplit/internal/report"
	"github.com/JonMunkholm/scansplit/internal/session"
	"github.com/JonMunkholm/scansplit/internal/upload"
)

var (
	// ErrNoUploads is returned by StartProcessing for a session without
	// completed uploads.
	ErrNoUploads = errors.New("no completed uploads in session")

	// ErrIndexingDisabled is returned by Ingest when no cluster is configured.
	ErrIndexingDisabled = errors.New("indexing not configured")

	// ErrRunInProgress is returned by exports while a run is still
	// appending to the session's bucket files.
	ErrRunInProgress = errors.New("processing still running")
)

// Indexer loads a session's bucket files into a search cluster.
// *indexer.Indexer satisfies it.
type Indexer interface {
	Ingest(ctx context.Context, dir string, indices map[report.Bucket]string) (map[report.Bucket]indexer.BucketStats, error)
}

// Publisher copies a session's bucket files to object storage.
// *export.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, sessionID, dir string) ([]string, error)
}

// Options wires a Service. Store and Bus are required.
type Options struct {
	Store *session.Store
	Bus   *events.Bus

	UploadLimits upload.Limits

	MaxConcurrentRuns int
	MaxRunWait        time.Duration

	ProgressRows     int
	ProgressInterval time.Duration

	History   history.Recorder
	Indexer   Indexer
	Indices   map[report.Bucket]string
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Service is the entry point for every session operation.
type Service struct {
	store    *session.Store
	bus      *events.Bus
	receiver *upload.Receiver
	runs     *RunLimiter

	progressRows     int
	progressInterval time.Duration

	history   history.Recorder
	indexer   Indexer
	indices   map[report.Bucket]string
	publisher Publisher
	metrics   *metrics.Metrics

	// runCtx outlives the request that started a run; Close cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewService creates a Service from opts.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("core: session store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("core: event bus is required")
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:            opts.Store,
		bus:              opts.Bus,
		receiver:         upload.NewReceiver(opts.Store, opts.UploadLimits),
		runs:             NewRunLimiter(opts.MaxConcurrentRuns, opts.MaxRunWait),
		progressRows:     opts.ProgressRows,
		progressInterval: opts.ProgressInterval,
		history:          opts.History,
		indexer:          opts.Indexer,
		indices:          opts.Indices,
		publisher:        opts.Publisher,
		metrics:          opts.Metrics,
		runCtx:           ctx,
		cancelRun:        cancel,
	}, nil
}

// Store returns the session store.
func (s *Service) Store() *session.Store { return s.store }

// Bus returns the event bus.
func (s *Service) Bus() *events.Bus { return s.bus }

// Metrics returns the metrics collectors, possibly nil.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// RunLimiterStatus reports processing slot usage.
func (s *Service) RunLimiterStatus() RunLimiterStatus { return s.runs.Status() }

// ensureLog registers the session's event log if the bus does not know it,
// which happens after a restart or an idle eviction.
func (s *Service) ensureLog(sessionID string) {
	s.bus.Init(sessionID)
}

// CreateSession creates a session directory and its event log.
func (s *Service) CreateSession(meta session.Meta) (string, error) {
	id, err := s.store.Create(meta)
	if err != nil {
		return "", err
	}
	s.bus.Init(id)
	s.bus.Publisher(id).Pushf(events.LevelInfo, "Session created for client: %s", meta.DefaultClient())

	slog.Info("session created", "session_id", id, "client", meta.Client, "subclient", meta.Subclient)
	return id, nil
}

// SessionView is the status of a session as reported to clients.
type SessionView struct {
	ID      string           `json:"session_id"`
	Status  events.Status    `json:"status"`
	Meta    session.Meta     `json:"meta"`
	Uploads []session.Upload `json:"uploads"`
	Events  []events.Event   `json:"events"`
}

// Session returns the status, uploads and events of a session.
func (s *Service) Session(sessionID string) (SessionView, error) {
	meta, err := s.store.Meta(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	uploads, err := s.store.ListCompletedUploads(sessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.ensureLog(sessionID)
	evts, status, err := s.bus.Snapshot(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		ID:      sessionID,
		Status:  status,
		Meta:    meta,
		Uploads: uploads,
		Events:  evts,
	}, nil
}

// Events opens a stream over the session's event log starting at index
// start. Logs evicted from memory are re-created empty.
func (s *Service) Events(sessionID string, start int) (*events.Stream, error) {
	if !s.store.Exists(sessionID) {
		return nil, session.ErrNotFound
	}
	s.ensureLog(sessionID)
	return s.bus.Stream(sessionID, start)
}

// InitUpload starts a chunked upload and returns its id.
func (s *Service) InitUpload(sessionID, filename string, totalSize int64) (string, error) {
	uploadID, err := s.receiver.Init(sessionID, filename, totalSize)
	if err != nil {
		return "", err
	}
	s.ensureLog(sessionID)
	s.bus.Publisher(sessionID).Pushf(events.LevelInfo, "Upload started: %s (%d bytes)", filename, totalSize)
	return uploadID, nil
}

// PutChunk writes one byte range of an upload.
func (s *Service) PutChunk(sessionID, uploadID, filename string, totalSize int64, contentRange string, body io.Reader) (int64, error) {
	n, err := s.receiver.PutChunk(sessionID, uploadID, filename, totalSize, contentRange, body)
	if err != nil {
		return 0, err
	}
	s.metrics.ChunkReceived(n)
	return n, nil
}

// CompleteUpload moves an upload to its final name.
func (s *Service) CompleteUpload(sessionID, uploadID, filename string) (string, error) {
	final, err := s.receiver.Complete(sessionID, uploadID, filename)
	if err != nil {
		return "", err
	}
	s.metrics.UploadCompleted()
	s.ensureLog(sessionID)
	s.bus.Publisher(sessionID).Pushf(events.LevelInfo, "Upload complete: %s", filename)

	slog.Info("upload completed", "session_id", sessionID, "upload_id", uploadID, "path", final)
	return final, nil
}

// StartResult tells the caller whether a new run was started.
type StartResult struct {
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// StartProcessing starts a background run over the session's completed
// uploads. It returns once the run is scheduled; the outcome is reported
// through session events and status.
func (s *Service) StartProcessing(ctx context.Context, sessionID string) (StartResult, error) {
	if _, err := s.store.UploadDir(sessionID); err != nil {
		return StartResult{}, err
	}
	s.ensureLog(sessionID)
	pub := s.bus.Publisher(sessionID)

	if s.bus.Status(sessionID) == events.StatusRunning {
		pub.Push(events.LevelInfo, "Processing already running; new start ignored")
		return StartResult{AlreadyRunning: true}, nil
	}

	uploads, err := s.store.ListCompletedUploads(sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if len(uploads) == 0 {
		return StartResult{}, ErrNoUploads
	}
	meta, err := s.store.Meta(sessionID)
	if err != nil {
		return StartResult{}, err
	}
	outDir, err := s.store.OutputDir(sessionID)
	if err != nil {
		return StartResult{}, err
	}

	started, err := s.bus.TryBegin(sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if !started {
		pub.Push(events.LevelInfo, "Processing already running; new start ignored")
		return StartResult{AlreadyRunning: true}, nil
	}

	job := runJob{
		sessionID: sessionID,
		uploads:   uploads,
		outDir:    outDir,
		client:    meta.DefaultClient(),
		pub:       pub,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.runCtx, job)
	}()

	slog.Info("processing scheduled", "session_id", sessionID, "files", len(uploads))
	return StartResult{}, nil
}

// runJob is the immutable input of one background run.
type runJob struct {
	sessionID string
	uploads   []session.Upload
	outDir    string
	client    string
	pub       events.Publisher
}

// run executes one processing run. Whatever happens, it leaves the session
// in a terminal status.
func (s *Service) run(ctx context.Context, job runJob) {
	log := slog.With("session_id", job.sessionID)

	if !s.runs.TryAcquire() {
		job.pub.Push(events.LevelInfo, "Waiting for a free processing slot")
		if err := s.runs.Acquire(ctx); err != nil {
			s.fail(job, err)
			return
		}
	}
	defer s.runs.Release()

	s.metrics.RunStarted()
	status := events.StatusError
	defer func() { s.metrics.RunFinished(string(status)) }()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in processing run", "panic", r, "stack", string(debug.Stack()))
			s.fail(job, fmt.Errorf("internal error: %v", r))
		}
	}()

	start := time.Now()
	if err := s.process(ctx, job); err != nil {
		log.Error("processing failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.fail(job, err)
		return
	}

	job.pub.Push(events.LevelSuccess, "Processing complete")
	if err := s.bus.SetStatus(job.sessionID, events.StatusDone); err != nil {
		log.Warn("set status failed", "error", err)
	}
	status = events.StatusDone
	log.Info("processing complete", "files", len(job.uploads), "duration_ms", time.Since(start).Milliseconds())
}

func (s *Service) process(ctx context.Context, job runJob) error {
	parser := report.New(report.Options{
		OutputDir:        job.outDir,
		DefaultClient:    job.client,
		Progress:         job.pub,
		ProgressRows:     s.progressRows,
		ProgressInterval: s.progressInterval,
	})

	job.pub.Pushf(events.LevelInfo, "Starting processing of %d file(s)", len(job.uploads))
	for _, up := range job.uploads {
		job.pub.Pushf(events.LevelInfo, "Opening %s", up.Name)

		res, err := parser.ParseFile(ctx, up.Path)
		s.record(ctx, job.sessionID, up.Name, res, err)
		if err != nil {
			return err
		}

		job.pub.Pushf(events.LevelSuccess, "Finished %s", up.Name)
	}
	return nil
}

// record stores the outcome of one file. History failures are only logged.
func (s *Service) record(ctx context.Context, sessionID, name string, res report.Result, parseErr error) {
	rows := make(map[string]int, len(res.Rows))
	for b, n := range res.Rows {
		rows[string(b)] = n
	}
	if parseErr == nil {
		s.metrics.FileParsed(rows, res.Malformed, res.Rejected, res.Duration)
	}

	entry := history.Entry{
		SessionID: sessionID,
		File:      name,
		Client:    res.Client,
		Rows:      rows,
		Malformed: res.Malformed,
		Rejected:  res.Rejected,
		Bytes:     res.Bytes,
		Duration:  res.Duration,
	}
	if parseErr != nil {
		entry.Error = parseErr.Error()
	}
	if err := s.history.Record(ctx, entry); err != nil {
		slog.Warn("history record failed", "session_id", sessionID, "file", name, "error", err)
	}
}

func (s *Service) fail(job runJob, err error) {
	job.pub.Pushf(events.LevelError, "Processing failed: %v", err)
	if serr := s.bus.SetStatus(job.sessionID, events.StatusError); serr != nil {
		slog.Warn("set status failed", "session_id", job.sessionID, "error", serr)
	}
}

// WaitForRuns blocks until every scheduled run has ended or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels runs still in progress and waits for them to record their
// failure.
func (s *Service) Close() {
	s.cancelRun()
	s.wg.Wait()
}
