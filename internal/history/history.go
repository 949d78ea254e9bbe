// Package history keeps a per-file record of processing runs.
//
// Records live in PostgreSQL when a database is configured. Without one
// the Nop recorder accepts writes and reports listing as disabled.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDisabled is returned by List when no database is configured.
var ErrDisabled = errors.New("run history not configured")

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 100

// Entry is the outcome of one file in one run.
type Entry struct {
	SessionID string         `json:"session_id"`
	File      string         `json:"file"`
	Client    string         `json:"client"`
	Rows      map[string]int `json:"rows"`
	Malformed int            `json:"malformed"`
	Rejected  int            `json:"rejected"`
	Bytes     int64          `json:"bytes"`
	Duration  time.Duration  `json:"duration_ns"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder stores and lists history entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, string, int) ([]Entry, error) { return nil, ErrDisabled }

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PgRecorder stores entries in the scan_runs table.
type PgRecorder struct {
	pool *pgxpool.Pool
}

// NewPgRecorder wraps an open pool.
func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	file_name   TEXT        NOT NULL,
	client      TEXT        NOT NULL DEFAULT '',
	rows        JSONB       NOT NULL DEFAULT '{}',
	malformed   INTEGER     NOT NULL DEFAULT 0,
	rejected    INTEGER     NOT NULL DEFAULT 0,
	bytes       BIGINT      NOT NULL DEFAULT 0,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	error       TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS scan_runs_session_idx ON scan_runs (session_id, created_at DESC);
`

// EnsureSchema creates the table if it does not exist.
func (r *PgRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (r *PgRecorder) Record(ctx context.Context, e Entry) error {
	rows, err := json.Marshal(e.Rows)
	if err != nil {
		return fmt.Errorf("encode row counts: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO scan_runs
			(session_id, file_name, client, rows, malformed, rejected, bytes, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10)`,
		e.SessionID, e.File, e.Client, string(rows), e.Malformed, e.Rejected,
		e.Bytes, e.Duration.Milliseconds(), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns the newest entries of a session first.
func (r *PgRecorder) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT session_id, file_name, client, rows, malformed, rejected, bytes, duration_ms, error, created_at
		FROM scan_runs
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e          Entry
		rawRows    []byte
		durationMs int64
	)
	err := row.Scan(&e.SessionID, &e.File, &e.Client, &rawRows, &e.Malformed, &e.Rejected,
		&e.Bytes, &durationMs, &e.Error, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.Duration = time.Duration(durationMs) * time.Millisecond
	if len(rawRows) > 0 {
		if err := json.Unmarshal(rawRows, &e.Rows); err != nil {
			return e, fmt.Errorf("decode row counts: %w", err)
		}
	}
	return e, nil
}
