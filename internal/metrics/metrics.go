// Package metrics provides Prometheus metrics for scansplit.
//
// Every collector lives on the registry owned by a Metrics value, so
// several instances (one per test server, say) never collide. All
// recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scansplit"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Upload metrics
	ChunksReceived   prometheus.Counter
	BytesReceived    prometheus.Counter
	UploadsCompleted prometheus.Counter

	// Processing metrics
	RunsStarted    prometheus.Counter
	RunsFinished   *prometheus.CounterVec
	RunsActive     prometheus.Gauge
	RowsWritten    *prometheus.CounterVec
	RowsMalformed  prometheus.Counter
	BlocksRejected prometheus.Counter
	FileDuration   prometheus.Histogram

	// Export metrics
	DocumentsIndexed *prometheus.CounterVec
	ObjectsPublished prometheus.Counter

	// Event streams
	StreamsOpen prometheus.Gauge

	// HTTP
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_chunks_total",
			Help:      "Chunks accepted by the upload receiver",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes written by the upload receiver",
		}),
		UploadsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_completed_total",
			Help:      "Uploads finalized",
		}),
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Processing runs started",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Processing runs finished, by outcome",
		}, []string{"status"}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Processing runs holding a worker slot",
		}),
		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended to bucket files",
		}, []string{"bucket"}),
		RowsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_malformed_total",
			Help:      "Rows skipped because their field count did not match the header",
		}),
		BlocksRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_rejected_total",
			Help:      "Table blocks skipped for a missing or invalid header",
		}),
		FileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_parse_duration_seconds",
			Help:      "Time to parse one report",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		DocumentsIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents sent to the search index",
		}, []string{"bucket"}),
		ObjectsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_published_total",
			Help:      "Bucket files copied to object storage",
		}),
		StreamsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_streams_open",
			Help:      "Progress streams currently connected",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests partitioned by status code, method and route.",
		}, []string{"code", "method", "path"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_milliseconds",
			Help:      "Time spent on the request partitioned by status code, method and route.",
			Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
		}, []string{"code", "method", "path"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency by chi route pattern.
// Long-lived event streams are counted once they end.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(code, r.Method, path).Inc()
		m.latency.WithLabelValues(code, r.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// ChunkReceived records one accepted chunk.
func (m *Metrics) ChunkReceived(n int64) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// UploadCompleted records a finalized upload.
func (m *Metrics) UploadCompleted() {
	if m == nil {
		return
	}
	m.UploadsCompleted.Inc()
}

// RunStarted records a run entering a worker slot.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.RunsActive.Inc()
}

// RunFinished records a run leaving its worker slot with the given status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsFinished.WithLabelValues(status).Inc()
}

// FileParsed records the outcome of one parsed report.
func (m *Metrics) FileParsed(rows map[string]int, malformed, rejected int, d time.Duration) {
	if m == nil {
		return
	}
	for bucket, n := range rows {
		m.RowsWritten.WithLabelValues(bucket).Add(float64(n))
	}
	m.RowsMalformed.Add(float64(malformed))
	m.BlocksRejected.Add(float64(rejected))
	m.FileDuration.Observe(d.Seconds())
}

// Indexed records documents sent for one bucket.
func (m *Metrics) Indexed(bucket string, n int) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.WithLabelValues(bucket).Add(float64(n))
}

// Published records objects written to object storage.
func (m *Metrics) Published(n int) {
	if m == nil {
		return
	}
	m.ObjectsPublished.Add(float64(n))
}

// StreamOpened and StreamClosed track connected progress streams.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamsOpen.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamsOpen.Dec()
}
