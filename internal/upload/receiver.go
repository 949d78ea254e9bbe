// Package upload receives large files as independent byte ranges.
//
// A file is preallocated at its declared size, each chunk is written at
// its own offset, and the file is renamed into place on completion. Chunks
// of the same file may arrive in any order and concurrently: ranges are
// disjoint and every write is positional.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/scansplit/internal/session"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
	ErrInvalidUpload  = errors.New("invalid upload id")
	ErrMissingRange   = errors.New("missing Content-Range")
	ErrBadRange       = errors.New("bad Content-Range")
	ErrSizeMismatch   = errors.New("total_size mismatch")
	ErrChunkLength    = errors.New("chunk length mismatch")
	ErrChunkTooLarge  = errors.New("chunk too large")
	ErrFileTooLarge   = errors.New("file too large")
	ErrInvalidSize    = errors.New("invalid total_size")
)

// Sessions resolves the upload directory of a session.
// *session.Store satisfies it.
type Sessions interface {
	UploadDir(sessionID string) (string, error)
}

// Limits bounds what a client may upload. Zero means unlimited.
type Limits struct {
	MaxFileSize  int64
	MaxChunkSize int64
}

// Receiver implements the chunked upload protocol.
type Receiver struct {
	sessions Sessions
	limits   Limits
	now      func() time.Time
}

// NewReceiver creates a receiver over the given session directories.
func NewReceiver(sessions Sessions, limits Limits) *Receiver {
	return &Receiver{sessions: sessions, limits: limits, now: time.Now}
}

// Init preallocates a temp file of totalSize bytes and returns a new
// upload id.
func (r *Receiver) Init(sessionID, filename string, totalSize int64) (string, error) {
	if err := r.checkSize(totalSize); err != nil {
		return "", err
	}
	dir, err := r.sessions.UploadDir(sessionID)
	if err != nil {
		return "", err
	}

	uploadID := session.NewID()
	f, err := openSparse(tempPath(dir, uploadID, filename), totalSize)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return uploadID, nil
}

// PutChunk writes one byte range of an upload and returns the number of
// bytes received.
//
// The body must hold exactly end-start+1 bytes. Nothing is written unless
// the whole chunk is valid. A missing temp file is recreated first.
func (r *Receiver) PutChunk(sessionID, uploadID, filename string, totalSize int64, contentRange string, body io.Reader) (int64, error) {
	if contentRange == "" {
		return 0, ErrMissingRange
	}
	start, end, total, err := ParseContentRange(contentRange)
	if err != nil {
		return 0, err
	}
	if total != totalSize {
		return 0, fmt.Errorf("%w: header says %d, declared %d", ErrSizeMismatch, total, totalSize)
	}
	if err := r.checkSize(totalSize); err != nil {
		return 0, err
	}
	want := end - start + 1
	if r.limits.MaxChunkSize > 0 && want > r.limits.MaxChunkSize {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrChunkTooLarge, want, r.limits.MaxChunkSize)
	}

	dir, err := r.sessions.UploadDir(sessionID)
	if err != nil {
		return 0, err
	}
	if !session.ValidID(uploadID) {
		return 0, ErrInvalidUpload
	}

	buf := make([]byte, want)
	if n, err := io.ReadFull(body, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrChunkLength, n, want)
		}
		return 0, fmt.Errorf("read chunk: %w", err)
	}
	var extra [1]byte
	if n, _ := io.ReadFull(body, extra[:]); n > 0 {
		return 0, fmt.Errorf("%w: body longer than %d bytes", ErrChunkLength, want)
	}

	f, err := openSparse(tempPath(dir, uploadID, filename), totalSize)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, start); err != nil {
		return 0, fmt.Errorf("write chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	return want, nil
}

// Complete renames the temp file to its final name and returns the final
// path. Received ranges are not checked for coverage.
func (r *Receiver) Complete(sessionID, uploadID, filename string) (string, error) {
	dir, err := r.sessions.UploadDir(sessionID)
	if err != nil {
		return "", err
	}
	if !session.ValidID(uploadID) {
		return "", ErrInvalidUpload
	}

	tmp := tempPath(dir, uploadID, filename)
	final := filepath.Join(dir, SanitizeFilename(filename))
	if _, err := os.Stat(tmp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrUploadNotFound
		}
		return "", fmt.Errorf("stat temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	// Processing order follows completion time.
	now := r.now()
	if err := os.Chtimes(final, now, now); err != nil {
		return "", fmt.Errorf("stamp upload: %w", err)
	}
	return final, nil
}

func (r *Receiver) checkSize(totalSize int64) error {
	if totalSize < 0 {
		return ErrInvalidSize
	}
	if r.limits.MaxFileSize > 0 && totalSize > r.limits.MaxFileSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, totalSize, r.limits.MaxFileSize)
	}
	return nil
}

// openSparse opens path for positional writes, growing it to size by
// truncation. An existing larger file is never shrunk.
func openSparse(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocate temp file: %w", err)
		}
	}
	return f, nil
}

func tempPath(dir, uploadID, filename string) string {
	return filepath.Join(dir, uploadID+"__"+SanitizeFilename(filename)+session.PartSuffix)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename replaces every run of characters outside [A-Za-z0-9._-]
// with an underscore. Names that would still refer to a directory ("",
// ".", "..") become "_". A name ending in the temp marker gets a trailing
// "_" so the completed file is never mistaken for a pending one.
func SanitizeFilename(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	switch s {
	case "", ".", "..":
		return "_"
	}
	if strings.HasSuffix(s, session.PartSuffix) {
		s += "_"
	}
	return s
}

var contentRangeRe = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ParseContentRange parses "bytes <start>-<end>/<total>" with inclusive,
// zero-based bounds.
func ParseContentRange(h string) (start, end, total int64, err error) {
	m := contentRangeRe.FindStringSubmatch(h)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadRange, h)
	}
	vals := make([]int64, 3)
	for i := range vals {
		vals[i], err = strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadRange, h)
		}
	}
	start, end, total = vals[0], vals[1], vals[2]
	if start > end || end >= total {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadRange, h)
	}
	return start, end, total, nil
}
