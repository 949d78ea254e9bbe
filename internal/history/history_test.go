package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), Entry{SessionID: "a"}); err != nil {
		t.Errorf("Record = %v, want nil", err)
	}
	if _, err := r.List(context.Background(), "a", 0); !errors.Is(err, ErrDisabled) {
		t.Errorf("List error = %v, want ErrDisabled", err)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), PoolConfig{URL: "postgres://user@localhost:notaport/db"}); err == nil {
		t.Error("expected error for malformed URL")
	}
}

// TestPgRecorder runs against a real database when TEST_DATABASE_URL is set.
func TestPgRecorder(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, PoolConfig{URL: url, MaxConns: 2})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pool.Close()

	rec := NewPgRecorder(pool)
	if err := rec.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	sid := "test" + time.Now().Format("150405.000000000")
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM scan_runs WHERE session_id = $1", sid)
	})

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, name := range []string{"a.csv", "b.csv"} {
		err := rec.Record(ctx, Entry{
			SessionID: sid,
			File:      name,
			Client:    "ACME",
			Rows:      map[string]int{"t1_normal": i + 1},
			Malformed: i,
			Duration:  1500 * time.Millisecond,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := rec.List(ctx, sid, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].File != "b.csv" {
		t.Errorf("first entry = %q, want newest b.csv", entries[0].File)
	}
	if entries[0].Rows["t1_normal"] != 2 || entries[0].Duration != 1500*time.Millisecond {
		t.Errorf("entry = %+v", entries[0])
	}
}
