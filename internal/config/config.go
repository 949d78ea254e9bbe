// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Processing ProcessingConfig
	Events     EventsConfig
	Elastic    ElasticConfig
	Database   DatabaseConfig
	Publish    PublishConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8000"`

	// ReadTimeout is the maximum duration for reading a request, chunk bodies included (default: 2m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"2m"`

	// WriteTimeout is the maximum duration for writing a response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-streaming requests (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// StorageConfig holds session storage settings.
type StorageConfig struct {
	// DataDir holds one directory per session (default: /tmp/app/sessions)
	DataDir string `env:"DATA_DIR" default:"/tmp/app/sessions"`

	// Retention deletes sessions older than this; 0 keeps them (default: 0)
	Retention time.Duration `env:"SESSION_RETENTION" default:"0s"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	// MaxFileSize is the largest declared total_size accepted (default: 10GiB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10737418240"`

	// MaxChunkSize is the largest chunk body accepted (default: 64MiB)
	MaxChunkSize int64 `env:"UPLOAD_MAX_CHUNK_SIZE" default:"67108864"`

	// ChunkSize is the chunk size advertised to clients (default: 8MiB)
	ChunkSize int64 `env:"CHUNK_SIZE" default:"8388608"`
}

// ProcessingConfig holds processing run settings.
type ProcessingConfig struct {
	// MaxConcurrent is the number of runs parsing at once (default: 2)
	MaxConcurrent int `env:"PROCESS_MAX_CONCURRENCY" envAlt:"MAX_CONCURRENCY" default:"2"`

	// MaxWait bounds how long a run waits for a slot; 0 waits indefinitely (default: 0)
	MaxWait time.Duration `env:"PROCESS_MAX_WAIT" default:"0s"`

	// ProgressRows is the row interval between progress events (default: 5000)
	ProgressRows int `env:"PROGRESS_ROWS" default:"5000"`

	// ProgressInterval is the time interval between progress events (default: 2s)
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" default:"2s"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	// PingInterval is the SSE keep-alive interval (default: 1s)
	PingInterval time.Duration `env:"EVENTS_PING_INTERVAL" default:"1s"`

	// IdleTTL evicts finished session logs idle for this long; 0 never evicts (default: 24h)
	IdleTTL time.Duration `env:"EVENTS_IDLE_TTL" default:"24h"`

	// SweepInterval is how often the janitor runs (default: 1m)
	SweepInterval time.Duration `env:"EVENTS_SWEEP_INTERVAL" default:"1m"`
}

// ElasticConfig holds search cluster settings.
type ElasticConfig struct {
	// Enabled turns the ingest endpoint on (default: true)
	Enabled bool `env:"ES_ENABLED" default:"true"`

	// URL is the cluster address (default: http://localhost:9200)
	URL string `env:"ES_BASE_URL" envAlt:"ES_URL" default:"http://localhost:9200"`

	// Username and Password are used only when APIKey is empty
	Username string `env:"ES_USERNAME"`
	Password string `env:"ES_PASSWORD"`

	// APIKey is sent as "Authorization: ApiKey <key>"
	APIKey string `env:"ES_API_KEY"`

	// VerifySSL checks the cluster certificate (default: true)
	VerifySSL bool `env:"ES_VERIFY_SSL" default:"true"`

	// CACert is an optional PEM bundle path
	CACert string `env:"ES_CA_CERT"`

	// Timeout bounds the wait for each bulk response (default: 5m)
	Timeout time.Duration `env:"ES_TIMEOUT" default:"5m"`

	// BatchSize is the number of documents per bulk request (default: 5000)
	BatchSize int `env:"ES_BATCH_SIZE" default:"5000"`

	// Index names per bucket
	IndexT1Normal   string `env:"ES_INDEX_T1_NORMAL" default:"qualys_t1_normal"`
	IndexT1Adjusted string `env:"ES_INDEX_T1_AJUSTADA" default:"qualys_t1_ajustada"`
	IndexT2Normal   string `env:"ES_INDEX_T2_NORMAL" default:"qualys_t2_normal"`
	IndexT2Adjusted string `env:"ES_INDEX_T2_AJUSTADA" default:"qualys_t2_ajustada"`
}

// DatabaseConfig holds the optional run history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; empty disables run history
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// PublishConfig holds object storage settings.
type PublishConfig struct {
	// BucketURL is a gocloud bucket URL (file://, s3://, gs://); empty disables publishing
	BucketURL string `env:"PUBLISH_BUCKET_URL"`

	// Prefix is prepended to every object key (default: scansplit)
	Prefix string `env:"PUBLISH_PREFIX" default:"scansplit"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: false)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"false"`

	// RequestsPerMinute is the limit per IP (default: 600)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// AllowedOrigins is the CORS allow list (default: *)
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File also writes logs to a size-rotated file when set
	File string `env:"LOG_FILE"`

	// MaxSizeMB is the rotation size of LOG_FILE (default: 100)
	MaxSizeMB int `env:"LOG_MAX_SIZE_MB" default:"100"`

	// MaxBackups is the number of rotated files kept (default: 5)
	MaxBackups int `env:"LOG_MAX_BACKUPS" default:"5"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
