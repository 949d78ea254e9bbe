package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// ErrPublishDisabled is returned when no bucket URL is configured.
var ErrPublishDisabled = errors.New("publishing not configured")

// Publisher copies bucket files to object storage under
// <prefix>/<sessionID>/<bucket file>.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
}

// OpenPublisher opens the bucket at bucketURL (file://, s3://, gs://).
// An empty URL yields a nil Publisher, whose Publish reports
// ErrPublishDisabled.
func OpenPublisher(ctx context.Context, bucketURL, prefix string) (*Publisher, error) {
	if bucketURL == "" {
		return nil, nil
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Publisher{bucket: b, prefix: strings.Trim(prefix, "/")}, nil
}

// Publish uploads every bucket file in dir and returns the object keys.
func (p *Publisher) Publish(ctx context.Context, sessionID, dir string) ([]string, error) {
	if p == nil {
		return nil, ErrPublishDisabled
	}
	files, err := existingBuckets(dir)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, bf := range files {
		key := path.Join(p.prefix, sessionID, bf.bucket.FileName())
		if err := p.put(ctx, key, bf.path); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Publisher) put(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Close releases the bucket connection.
func (p *Publisher) Close() error {
	if p == nil || p.bucket == nil {
		return nil
	}
	return p.bucket.Close()
}
