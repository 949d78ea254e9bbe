// Package report splits vulnerability-scan report exports into the four
// bucket CSV files of a session.
//
// A report is a loosely structured text export. Two kinds of tables are
// embedded in it: a "Control Statistics" table (T1) and a "RESULTS" table
// (T2). Each is routed to a normal or an adjusted bucket depending on a
// file-level flag. Bucket files accumulate across every report of a
// session and keep the header of the first block written to them.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/scansplit/internal/events"
)

// Defaults for Options.
const (
	DefaultClient           = "DEFAULT"
	DefaultProgressRows     = 5000
	DefaultProgressInterval = 2 * time.Second

	// maxBadRows consecutive malformed rows abort a block.
	maxBadRows = 3

	// ctxCheckEvery is how many lines pass between cancellation checks.
	ctxCheckEvery = 1024
)

// Progress receives parser events. events.Publisher satisfies it.
type Progress interface {
	Push(level events.Level, message string)
}

type discardProgress struct{}

func (discardProgress) Push(events.Level, string) {}

// Options configures a Parser.
type Options struct {
	// OutputDir holds the bucket files. It must exist.
	OutputDir string

	// DefaultClient labels rows of reports that name no client.
	DefaultClient string

	Progress Progress

	// A progress event is emitted every ProgressRows rows or every
	// ProgressInterval, whichever comes first.
	ProgressRows     int
	ProgressInterval time.Duration
}

// Result describes one parsed report.
type Result struct {
	File      string
	Metadata  Metadata
	Client    string
	Rows      Counts
	Malformed int
	Rejected  int
	Bytes     int64
	Duration  time.Duration
}

// Parser appends report tables to bucket files.
// A Parser must not be used by two goroutines at once.
type Parser struct {
	opts Options
}

// New returns a parser with defaults applied.
func New(opts Options) *Parser {
	if opts.DefaultClient == "" {
		opts.DefaultClient = DefaultClient
	}
	if opts.Progress == nil {
		opts.Progress = discardProgress{}
	}
	if opts.ProgressRows <= 0 {
		opts.ProgressRows = DefaultProgressRows
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Parser{opts: opts}
}

// ParseFile splits the report at path into the output buckets.
//
// I/O failures are returned. An invalid RESULTS header and runs of
// malformed rows are reported as warning events and counted in the Result.
func (p *Parser) ParseFile(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res := Result{File: filepath.Base(path), Rows: Counts{}}

	if p.opts.OutputDir == "" {
		return res, errors.New("report: output directory not set")
	}

	md, err := ReadMetadata(path)
	if err != nil {
		return res, err
	}
	res.Metadata = md
	res.Client = md.EffectiveClient(p.opts.DefaultClient)

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	in, counter := wrapInput(f)
	s := &fileScan{
		ctx:     ctx,
		opts:    &p.opts,
		cur:     newLineCursor(in),
		md:      md,
		client:  res.Client,
		res:     &res,
		buckets: newBucketSet(p.opts.OutputDir),
	}

	err = s.run()
	if cerr := s.buckets.Close(); err == nil {
		err = cerr
	}
	res.Bytes = counter.n
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("%s line %d: %w", res.File, s.cur.Line(), err)
	}

	p.opts.Progress.Push(events.LevelInfo, fmt.Sprintf("Processed %s (%s, malformed=%d)",
		res.File, res.Rows, res.Malformed))
	return res, nil
}

// fileScan is the state of one pass over one report.
type fileScan struct {
	ctx     context.Context
	opts    *Options
	cur     *lineCursor
	md      Metadata
	client  string
	res     *Result
	buckets *bucketSet
	lines   int
}

func (s *fileScan) run() error {
	for {
		line, err := s.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if kind := markerKind(line); kind != 0 {
			if err := s.block(kind); err != nil {
				return err
			}
		}
	}
}

func (s *fileScan) next() (string, error) {
	s.lines++
	if s.lines%ctxCheckEvery == 0 {
		if err := s.ctx.Err(); err != nil {
			return "", err
		}
	}
	return s.cur.Next()
}

func (s *fileScan) warn(format string, args ...any) {
	s.opts.Progress.Push(events.LevelWarning, fmt.Sprintf(format, args...))
}

// block consumes the header and rows following a table marker.
func (s *fileScan) block(kind tableKind) error {
	markerLine := s.cur.Line()

	hdrLine, err := s.next()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(hdrLine) == "" || markerKind(hdrLine) != 0 {
		s.cur.Unread(hdrLine)
		s.res.Rejected++
		s.warn("%s: %s table at line %d has no header, skipped", s.res.File, kind, markerLine)
		return nil
	}

	hdrLines, complete, err := s.cur.Record(hdrLine, isStopLine)
	if err != nil {
		return err
	}
	var header []string
	if complete {
		header, err = parseFields(strings.Join(hdrLines, "\n"))
	}
	if !complete || err != nil || len(header) == 0 {
		s.cur.UnreadAll(hdrLines)
		s.res.Rejected++
		s.warn("%s: unreadable %s header at line %d, skipped", s.res.File, kind, markerLine+1)
		return nil
	}
	for i := range header {
		header[i] = cleanCell(header[i])
	}

	if kind == kindT2 && !hasRequiredT2Column(header) {
		s.cur.UnreadAll(hdrLines)
		s.res.Rejected++
		s.warn("%s: invalid T2 header at line %d (none of host ip, operating system, control id, status), block skipped",
			s.res.File, markerLine+1)
		return nil
	}

	bucket := bucketFor(kind, s.md.Adjusted)
	out, err := s.buckets.get(bucket)
	if err != nil {
		return err
	}
	canonical, err := out.canonical(header)
	if err != nil {
		return err
	}
	mapper := newRowMapper(header, canonical, s.client)

	osIdx := -1
	if kind == kindT2 && s.md.DomainController {
		for i, h := range header {
			if strings.EqualFold(h, osColumn) {
				osIdx = i
				break
			}
		}
	}

	prog := newThrottle(s.opts.ProgressRows, s.opts.ProgressInterval)
	rows, bad, malformed := 0, 0, 0

	for {
		line, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if isStopLine(line) {
			s.cur.Unread(line)
			break
		}

		lines, complete, err := s.cur.Record(line, isStopLine)
		if err != nil {
			return err
		}
		fields, perr := []string(nil), errIncompleteRecord
		if complete {
			fields, perr = parseFields(strings.Join(lines, "\n"))
		}
		if perr != nil || len(fields) != len(header) {
			bad++
			malformed++
			if bad >= maxBadRows {
				s.warn("%s: %d consecutive malformed rows in %s table near line %d, block aborted",
					s.res.File, bad, kind, s.cur.Line())
				break
			}
			continue
		}
		bad = 0

		if osIdx >= 0 {
			fields[osIdx] = withDomainController(fields[osIdx])
		}
		if err := out.write(mapper.apply(fields)); err != nil {
			return err
		}
		rows++

		if prog.due(rows) {
			s.opts.Progress.Push(events.LevelInfo,
				fmt.Sprintf("%s: %s %d rows written to %s", s.res.File, kind, rows, bucket))
		}
	}

	s.res.Rows[bucket] += rows
	s.res.Malformed += malformed
	s.opts.Progress.Push(events.LevelInfo,
		fmt.Sprintf("%s: %s block done, %d rows to %s (%d malformed)", s.res.File, kind, rows, bucket, malformed))
	return nil
}

// errIncompleteRecord marks text that is not exactly one CSV record.
var errIncompleteRecord = errors.New("incomplete record")

// parseFields splits one CSV record, tolerating stray quotes. Text that
// holds more than one record is rejected rather than truncated.
func parseFields(rec string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(rec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); err != io.EOF {
		return nil, errIncompleteRecord
	}
	return fields, nil
}

// throttle rate-limits progress events by row count and elapsed time.
type throttle struct {
	every    int
	interval time.Duration
	lastRows int
	lastAt   time.Time
}

func newThrottle(every int, interval time.Duration) *throttle {
	return &throttle{every: every, interval: interval, lastAt: time.Now()}
}

func (t *throttle) due(rows int) bool {
	now := time.Now()
	if rows-t.lastRows >= t.every || now.Sub(t.lastAt) >= t.interval {
		t.lastRows = rows
		t.lastAt = now
		return true
	}
	return false
}
