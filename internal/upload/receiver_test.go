package upload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/scansplit/internal/session"
)

func newTestReceiver(t *testing.T, limits Limits) (*Receiver, *session.Store, string) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	id, err := store.Create(session.Meta{Client: "ACME"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return NewReceiver(store, limits), store, id
}

func rangeHeader(start, end, total int) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header            string
		start, end, total int64
		wantErr           bool
	}{
		{header: "bytes 0-9/10", start: 0, end: 9, total: 10},
		{header: "bytes 5-5/6", start: 5, end: 5, total: 6},
		{header: "bytes 9-5/10", wantErr: true},
		{header: "bytes 0-10/10", wantErr: true},
		{header: "bytes=0-9/10", wantErr: true},
		{header: "bytes 0-9/*", wantErr: true},
		{header: "bytes -1-9/10", wantErr: true},
		{header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				if !errors.Is(err, ErrBadRange) {
					t.Errorf("error = %v, want ErrBadRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tt.start || end != tt.end || total != tt.total {
				t.Errorf("got (%d, %d, %d), want (%d, %d, %d)", start, end, total, tt.start, tt.end, tt.total)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.csv", "report.csv"},
		{"Q3 report (final).csv", "Q3_report_final_.csv"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{`..\..\boot.ini`, ".._.._boot.ini"},
		{"..", "_"},
		{".", "_"},
		{"", "_"},
		{"informe_año.csv", "informe_a_o.csv"},
		{"scan.part", "scan.part_"},
		{"old scan.part", "old_scan.part_"},
		{"scan.part.csv", "scan.part.csv"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReceiver_CompletedPartNameIsListed(t *testing.T) {
	r, store, sid := newTestReceiver(t, Limits{})
	body := "Control Statistics\n"

	uploadID, err := r.Init(sid, "scan.part", int64(len(body)))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := r.PutChunk(sid, uploadID, "scan.part", int64(len(body)),
		rangeHeader(0, len(body)-1, len(body)), strings.NewReader(body)); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	final, err := r.Complete(sid, uploadID, "scan.part")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if filepath.Base(final) != "scan.part_" {
		t.Errorf("final name = %q, want scan.part_", filepath.Base(final))
	}

	uploads, err := store.ListCompletedUploads(sid)
	if err != nil {
		t.Fatalf("ListCompletedUploads failed: %v", err)
	}
	if len(uploads) != 1 || uploads[0].Name != "scan.part_" {
		t.Errorf("uploads = %+v, want scan.part_", uploads)
	}
}

func TestReceiver_InitPreallocates(t *testing.T) {
	r, store, sid := newTestReceiver(t, Limits{})

	uploadID, err := r.Init(sid, "scan.csv", 1024)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !session.ValidID(uploadID) {
		t.Errorf("upload id %q is not valid", uploadID)
	}

	dir, _ := store.UploadDir(sid)
	info, err := os.Stat(filepath.Join(dir, uploadID+"__scan.csv.part"))
	if err != nil {
		t.Fatalf("temp file missing: %v", err)
	}
	if info.Size() != 1024 {
		t.Errorf("size = %d, want 1024", info.Size())
	}
}

func TestReceiver_InitErrors(t *testing.T) {
	r, _, sid := newTestReceiver(t, Limits{MaxFileSize: 100})

	tests := []struct {
		name    string
		session string
		size    int64
		want    error
	}{
		{"unknown session", session.NewID(), 10, session.ErrNotFound},
		{"negative size", sid, -1, ErrInvalidSize},
		{"over limit", sid, 101, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Init(tt.session, "a.csv", tt.size); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReceiver_PutChunkErrors(t *testing.T) {
	r, _, sid := newTestReceiver(t, Limits{MaxChunkSize: 8})
	uploadID, _ := r.Init(sid, "a.csv", 10)

	tests := []struct {
		name   string
		upload string
		total  int64
		header string
		body   string
		want   error
	}{
		{"missing header", uploadID, 10, "", "abc", ErrMissingRange},
		{"malformed header", uploadID, 10, "bytes 0-2", "abc", ErrBadRange},
		{"total mismatch", uploadID, 10, "bytes 0-2/11", "abc", ErrSizeMismatch},
		{"short body", uploadID, 10, "bytes 0-3/10", "abc", ErrChunkLength},
		{"long body", uploadID, 10, "bytes 0-1/10", "abc", ErrChunkLength},
		{"chunk over limit", uploadID, 10, "bytes 0-8/10", "abcdefghi", ErrChunkTooLarge},
		{"bad upload id", "../x", 10, "bytes 0-2/10", "abc", ErrInvalidUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.PutChunk(sid, tt.upload, "a.csv", tt.total, tt.header, strings.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := r.PutChunk(session.NewID(), uploadID, "a.csv", 10, "bytes 0-2/10", strings.NewReader("abc")); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestReceiver_ConcurrentChunks(t *testing.T) {
	r, _, sid := newTestReceiver(t, Limits{})

	const size = 64*1024 + 123
	const chunk = 4096
	payload := make([]byte, size)
	rand.New(rand.NewSource(42)).Read(payload)

	uploadID, err := r.Init(sid, "big report.csv", size)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	var starts []int
	for off := 0; off < size; off += chunk {
		starts = append(starts, off)
	}
	rand.New(rand.NewSource(7)).Shuffle(len(starts), func(i, j int) { starts[i], starts[j] = starts[j], starts[i] })

	var wg sync.WaitGroup
	for _, start := range starts {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			end := start + chunk - 1
			if end >= size {
				end = size - 1
			}
			got, err := r.PutChunk(sid, uploadID, "big report.csv", size,
				rangeHeader(start, end, size), bytes.NewReader(payload[start:end+1]))
			if err != nil {
				t.Errorf("PutChunk(%d) failed: %v", start, err)
				return
			}
			if got != int64(end-start+1) {
				t.Errorf("received = %d, want %d", got, end-start+1)
			}
		}(start)
	}
	wg.Wait()

	final, err := r.Complete(sid, uploadID, "big report.csv")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if filepath.Base(final) != "big_report.csv" {
		t.Errorf("final name = %q, want big_report.csv", filepath.Base(final))
	}
	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("final file differs from the uploaded payload")
	}
}

func TestReceiver_PutChunkRecreatesTempFile(t *testing.T) {
	r, store, sid := newTestReceiver(t, Limits{})
	uploadID := session.NewID()

	if _, err := r.PutChunk(sid, uploadID, "a.csv", 6, "bytes 3-5/6", strings.NewReader("def")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if _, err := r.PutChunk(sid, uploadID, "a.csv", 6, "bytes 0-2/6", strings.NewReader("abc")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	final, err := r.Complete(sid, uploadID, "a.csv")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	data, _ := os.ReadFile(final)
	if string(data) != "abcdef" {
		t.Errorf("got %q, want %q", data, "abcdef")
	}

	uploads, _ := store.ListCompletedUploads(sid)
	if len(uploads) != 1 || uploads[0].Name != "a.csv" {
		t.Errorf("completed uploads = %+v", uploads)
	}
}

func TestReceiver_CompleteErrors(t *testing.T) {
	r, _, sid := newTestReceiver(t, Limits{})

	if _, err := r.Complete(sid, session.NewID(), "a.csv"); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("error = %v, want ErrUploadNotFound", err)
	}
	if _, err := r.Complete(sid, "nope", "a.csv"); !errors.Is(err, ErrInvalidUpload) {
		t.Errorf("error = %v, want ErrInvalidUpload", err)
	}
	if _, err := r.Complete(session.NewID(), session.NewID(), "a.csv"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReceiver_TraversalStaysInUploadDir(t *testing.T) {
	r, store, sid := newTestReceiver(t, Limits{})
	dir, _ := store.UploadDir(sid)

	uploadID, err := r.Init(sid, "../../escape.csv", 3)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := r.PutChunk(sid, uploadID, "../../escape.csv", 3, "bytes 0-2/3", strings.NewReader("abc")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	final, err := r.Complete(sid, uploadID, "../../escape.csv")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if filepath.Dir(final) != dir {
		t.Errorf("final path %q escaped %q", final, dir)
	}
}
