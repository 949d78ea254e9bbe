package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/scansplit/internal/config"
	"github.com/JonMunkholm/scansplit/internal/core"
	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/export"
	"github.com/JonMunkholm/scansplit/internal/history"
	"github.com/JonMunkholm/scansplit/internal/indexer"
	"github.com/JonMunkholm/scansplit/internal/logging"
	"github.com/JonMunkholm/scansplit/internal/metrics"
	"github.com/JonMunkholm/scansplit/internal/report"
	"github.com/JonMunkholm/scansplit/internal/session"
	"github.com/JonMunkholm/scansplit/internal/upload"
	"github.com/JonMunkholm/scansplit/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logCloser := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	store, err := session.NewStore(cfg.Storage.DataDir)
	if err != nil {
		slog.Error("failed to open session store", "dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}

	opts := core.Options{
		Store: store,
		Bus: events.New(
			events.WithPingInterval(cfg.Events.PingInterval),
			events.WithEvictionPolicy(events.IdleTTL(cfg.Events.IdleTTL)),
		),
		UploadLimits: upload.Limits{
			MaxFileSize:  cfg.Upload.MaxFileSize,
			MaxChunkSize: cfg.Upload.MaxChunkSize,
		},
		MaxConcurrentRuns: cfg.Processing.MaxConcurrent,
		MaxRunWait:        cfg.Processing.MaxWait,
		ProgressRows:      cfg.Processing.ProgressRows,
		ProgressInterval:  cfg.Processing.ProgressInterval,
		Metrics:           metrics.New(),
	}

	// Run history is optional
	if cfg.Database.URL != "" {
		pool, err := history.Connect(ctx, history.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		recorder := history.NewPgRecorder(pool)
		if err := recorder.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare run history schema", "error", err)
			os.Exit(1)
		}
		opts.History = recorder

		// Log which database we connected to
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("run history enabled", "database", strings.TrimPrefix(u.Path, "/"))
		}
	}

	if cfg.Elastic.Enabled {
		ix, err := indexer.New(indexer.Config{
			URL:       cfg.Elastic.URL,
			Username:  cfg.Elastic.Username,
			Password:  cfg.Elastic.Password,
			APIKey:    cfg.Elastic.APIKey,
			VerifySSL: cfg.Elastic.VerifySSL,
			CACert:    cfg.Elastic.CACert,
			Timeout:   cfg.Elastic.Timeout,
			BatchSize: cfg.Elastic.BatchSize,
		})
		if err != nil {
			slog.Error("failed to configure indexer", "error", err)
			os.Exit(1)
		}
		opts.Indexer = ix
		opts.Indices = indicesFromConfig(cfg.Elastic)
	}

	pub, err := export.OpenPublisher(ctx, cfg.Publish.BucketURL, cfg.Publish.Prefix)
	if err != nil {
		slog.Error("failed to open publish bucket", "error", err)
		os.Exit(1)
	}
	if pub != nil {
		defer pub.Close()
		opts.Publisher = pub
	}

	service, err := core.NewService(opts)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartJanitor(jobCtx, core.JanitorConfig{
		Interval:  cfg.Events.SweepInterval,
		Retention: cfg.Storage.Retention,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running sessions finish their current files
		if st := service.RunLimiterStatus(); st.Active > 0 {
			slog.Info("waiting for processing runs to complete", "active", st.Active)
		}
		if err := service.WaitForRuns(shutdownCtx); err != nil {
			slog.Warn("runs did not complete in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		service.Close()
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		service.Close()
		return
	}
	<-stopped
	slog.Info("server stopped")
}

// indicesFromConfig returns the configured index names, falling back to
// the defaults for unset buckets.
func indicesFromConfig(c config.ElasticConfig) map[report.Bucket]string {
	out := make(map[report.Bucket]string, len(report.Buckets))
	for b, name := range map[report.Bucket]string{
		report.T1Normal:   c.IndexT1Normal,
		report.T1Adjusted: c.IndexT1Adjusted,
		report.T2Normal:   c.IndexT2Normal,
		report.T2Adjusted: c.IndexT2Adjusted,
	} {
		if name == "" {
			name = indexer.DefaultIndices[b]
		}
		out[b] = name
	}
	return out
}
