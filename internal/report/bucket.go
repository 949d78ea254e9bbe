package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Bucket names one of the four output accumulators of a session.
type Bucket string

const (
	T1Normal   Bucket = "t1_normal"
	T1Adjusted Bucket = "t1_ajustada"
	T2Normal   Bucket = "t2_normal"
	T2Adjusted Bucket = "t2_ajustada"
)

// Buckets lists every bucket in output order.
var Buckets = []Bucket{T1Normal, T1Adjusted, T2Normal, T2Adjusted}

// ParseBucket validates a bucket name.
func ParseBucket(s string) (Bucket, bool) {
	for _, b := range Buckets {
		if string(b) == s {
			return b, true
		}
	}
	return "", false
}

// FileName is the bucket's CSV file name inside an output directory.
func (b Bucket) FileName() string {
	return string(b) + ".csv"
}

func (b Bucket) short() string {
	switch b {
	case T1Normal:
		return "T1N"
	case T1Adjusted:
		return "T1A"
	case T2Normal:
		return "T2N"
	default:
		return "T2A"
	}
}

func bucketFor(kind tableKind, adjusted bool) Bucket {
	switch {
	case kind == kindT1 && adjusted:
		return T1Adjusted
	case kind == kindT1:
		return T1Normal
	case adjusted:
		return T2Adjusted
	default:
		return T2Normal
	}
}

// Counts holds a row count per bucket.
type Counts map[Bucket]int

// Total sums every bucket.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c Counts) String() string {
	parts := make([]string, len(Buckets))
	for i, b := range Buckets {
		parts[i] = fmt.Sprintf("%s=%d", b.short(), c[b])
	}
	return strings.Join(parts, ", ")
}

// bucketFile appends rows to one bucket CSV. Its canonical header is read
// from the file when it already has content, and fixed by the first block
// otherwise.
type bucketFile struct {
	path   string
	f      *os.File
	w      *csv.Writer
	header []string
}

func openBucketFile(path string) (*bucketFile, error) {
	header, err := readCanonicalHeader(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", filepath.Base(path), err)
	}
	return &bucketFile{path: path, f: f, w: csv.NewWriter(f), header: header}, nil
}

// readCanonicalHeader returns the first record of an existing bucket file,
// or nil when the file is missing or empty.
func readCanonicalHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", filepath.Base(path), err)
	}
	for i := range rec {
		rec[i] = cleanCell(rec[i])
	}
	return rec, nil
}

// canonical returns the bucket header, fixing it from blockHeader (and
// writing it) if the bucket has none yet.
func (b *bucketFile) canonical(blockHeader []string) ([]string, error) {
	if b.header != nil {
		return b.header, nil
	}
	header := make([]string, 0, len(blockHeader)+1)
	for _, h := range blockHeader {
		h = cleanCell(h)
		if strings.EqualFold(h, clientColumn) {
			continue
		}
		header = append(header, h)
	}
	header = append(header, clientColumn)

	if err := b.write(header); err != nil {
		return nil, err
	}
	b.header = header
	return header, nil
}

func (b *bucketFile) write(rec []string) error {
	if err := b.w.Write(rec); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(b.path), err)
	}
	return nil
}

func (b *bucketFile) Close() error {
	b.w.Flush()
	werr := b.w.Error()
	cerr := b.f.Close()
	if werr != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(b.path), werr)
	}
	return cerr
}

// bucketSet opens bucket files on first use.
type bucketSet struct {
	dir   string
	files map[Bucket]*bucketFile
}

func newBucketSet(dir string) *bucketSet {
	return &bucketSet{dir: dir, files: make(map[Bucket]*bucketFile)}
}

func (s *bucketSet) get(b Bucket) (*bucketFile, error) {
	if f, ok := s.files[b]; ok {
		return f, nil
	}
	f, err := openBucketFile(filepath.Join(s.dir, b.FileName()))
	if err != nil {
		return nil, err
	}
	s.files[b] = f
	return f, nil
}

// Close flushes and closes every opened bucket, returning the first error.
func (s *bucketSet) Close() error {
	var first error
	for _, b := range Buckets {
		f, ok := s.files[b]
		if !ok {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.files = map[Bucket]*bucketFile{}
	return first
}

// rowMapper projects a block row onto the canonical header by column name.
type rowMapper struct {
	src    []int
	client string
}

func newRowMapper(blockHeader, canonical []string, client string) rowMapper {
	pos := make(map[string]int, len(blockHeader))
	for i, h := range blockHeader {
		key := strings.ToLower(cleanCell(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}

	m := rowMapper{client: client}
	for _, c := range canonical {
		key := strings.ToLower(cleanCell(c))
		if key == strings.ToLower(clientColumn) {
			continue
		}
		idx, ok := pos[key]
		if !ok {
			idx = -1
		}
		m.src = append(m.src, idx)
	}
	return m
}

func (m rowMapper) apply(fields []string) []string {
	out := make([]string, 0, len(m.src)+1)
	for _, idx := range m.src {
		if idx >= 0 && idx < len(fields) {
			out = append(out, fields[idx])
		} else {
			out = append(out, "")
		}
	}
	return append(out, m.client)
}
