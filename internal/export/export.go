// Package export turns a session's bucket files into downloadable or
// published artifacts.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/scansplit/internal/report"
)

// ErrNoResults is returned when an output directory holds no bucket files.
var ErrNoResults = errors.New("no results to export")

// bucketFile is an existing bucket file in an output directory.
type bucketFile struct {
	bucket report.Bucket
	path   string
	info   os.FileInfo
}

// existingBuckets returns the bucket files present in dir, in bucket order.
func existingBuckets(dir string) ([]bucketFile, error) {
	var out []bucketFile
	for _, b := range report.Buckets {
		path := filepath.Join(dir, b.FileName())
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", b.FileName(), err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, bucketFile{bucket: b, path: path, info: info})
	}
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// HasResults reports whether dir holds at least one bucket file.
func HasResults(dir string) (bool, error) {
	_, err := existingBuckets(dir)
	if errors.Is(err, ErrNoResults) {
		return false, nil
	}
	return err == nil, err
}
