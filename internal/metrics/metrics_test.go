package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ChunkReceived(10)
	m.UploadCompleted()
	m.RunStarted()
	m.RunFinished("done")
	m.FileParsed(map[string]int{"t1_normal": 1}, 1, 1, time.Second)
	m.Indexed("t1_normal", 3)
	m.Published(2)
	m.StreamOpened()
	m.StreamClosed()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if h == nil {
		t.Fatal("Middleware returned nil")
	}
}

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.ChunkReceived(5)

	if got := testutil.ToFloat64(a.BytesReceived); got != 5 {
		t.Errorf("a bytes = %v, want 5", got)
	}
	if got := testutil.ToFloat64(b.BytesReceived); got != 0 {
		t.Errorf("b bytes = %v, want 0", got)
	}
}

func TestRunGauge(t *testing.T) {
	m := New()
	m.RunStarted()
	m.RunStarted()
	m.RunFinished("done")

	if got := testutil.ToFloat64(m.RunsActive); got != 1 {
		t.Errorf("RunsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsFinished.WithLabelValues("done")); got != 1 {
		t.Errorf("runs done = %v, want 1", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("418", "GET", "/sessions/{id}"))
	if got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "scansplit_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}
