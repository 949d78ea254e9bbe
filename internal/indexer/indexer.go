// Package indexer bulk-loads bucket CSV files into Elasticsearch.
//
// Each CSV row becomes one document whose fields are named by the file's
// header. Rows are sent through the _bulk API in bounded batches while the
// file is read, so memory use does not grow with the file. Every request
// is attempted exactly once.
package indexer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/JonMunkholm/scansplit/internal/report"
)

// ErrBulkFailed marks a transport failure or non-2xx bulk response.
var ErrBulkFailed = errors.New("bulk request failed")

// DefaultBatchSize is the number of documents per bulk request.
const DefaultBatchSize = 5000

// DefaultIndices maps each bucket to its default index name.
var DefaultIndices = map[report.Bucket]string{
	report.T1Normal:   "qualys_t1_normal",
	report.T1Adjusted: "qualys_t1_ajustada",
	report.T2Normal:   "qualys_t2_normal",
	report.T2Adjusted: "qualys_t2_ajustada",
}

// Config describes the cluster connection.
type Config struct {
	URL       string
	Username  string
	Password  string
	APIKey    string // preferred over basic auth when set
	VerifySSL bool
	CACert    string // path to a PEM bundle
	Timeout   time.Duration
	BatchSize int
}

// BucketStats reports the outcome for one bucket.
type BucketStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Indexer sends bucket files to Elasticsearch.
type Indexer struct {
	es        *elasticsearch.Client
	batchSize int
}

// New builds a client for cfg. No request is made until Ingest.
func New(cfg Config) (*Indexer, error) {
	if cfg.URL == "" {
		return nil, errors.New("indexer: URL not set")
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.VerifySSL} //nolint:gosec // opt-in via ES_VERIFY_SSL=false
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	esCfg := elasticsearch.Config{
		Addresses:    []string{cfg.URL},
		Transport:    transport,
		DisableRetry: true,
	}
	if cfg.APIKey != "" {
		esCfg.APIKey = cfg.APIKey
	} else if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Indexer{es: es, batchSize: batch}, nil
}

// Ingest sends every existing bucket file in dir to its index. Buckets
// without an index name use DefaultIndices. Missing files count zero.
func (ix *Indexer) Ingest(ctx context.Context, dir string, indices map[report.Bucket]string) (map[report.Bucket]BucketStats, error) {
	stats := make(map[report.Bucket]BucketStats, len(report.Buckets))
	for _, b := range report.Buckets {
		index := indices[b]
		if index == "" {
			index = DefaultIndices[b]
		}

		st, err := ix.IngestFile(ctx, filepath.Join(dir, b.FileName()), index)
		stats[b] = st
		if err != nil {
			return stats, fmt.Errorf("%s: %w", b, err)
		}
	}
	return stats, nil
}

// IngestFile sends one CSV file to index.
func (ix *Indexer) IngestFile(ctx context.Context, path, index string) (BucketStats, error) {
	var st BucketStats

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)

	meta, err := json.Marshal(map[string]any{"index": map[string]string{"_index": index}})
	if err != nil {
		return st, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	pending := 0

	flush := func() error {
		if pending == 0 {
			return nil
		}
		failed, err := ix.send(ctx, &buf)
		if err != nil {
			return err
		}
		st.Sent += pending
		st.Failed += failed
		buf.Reset()
		pending = 0
		return nil
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, fmt.Errorf("read row: %w", err)
		}

		doc := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				doc[col] = row[i]
			}
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		if err := enc.Encode(doc); err != nil {
			return st, fmt.Errorf("encode document: %w", err)
		}
		pending++

		if pending >= ix.batchSize {
			if err := flush(); err != nil {
				return st, err
			}
		}
	}
	return st, flush()
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error,omitempty"`
	} `json:"items"`
}

// send posts one NDJSON body and returns the number of rejected items.
func (ix *Indexer) send(ctx context.Context, body io.Reader) (int, error) {
	res, err := ix.es.Bulk(body, ix.es.Bulk.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBulkFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrBulkFailed, res.StatusCode, bytes.TrimSpace(msg))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrBulkFailed, err)
	}
	if !br.Errors {
		return 0, nil
	}
	failed := 0
	for _, item := range br.Items {
		for _, op := range item {
			if op.Status >= 300 || len(op.Error) > 0 {
				failed++
			}
		}
	}
	return failed, nil
}
