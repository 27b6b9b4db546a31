package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nimeninja/ingestd/internal/cleanup"
	"github.com/nimeninja/ingestd/internal/config"
	"github.com/nimeninja/ingestd/internal/database"
	"github.com/nimeninja/ingestd/internal/gateway"
	"github.com/nimeninja/ingestd/internal/handlers"
	"github.com/nimeninja/ingestd/internal/ingest"
	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/middleware"
	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/repository/postgres"
	"github.com/nimeninja/ingestd/internal/repository/sqlite"
	"github.com/nimeninja/ingestd/internal/storage"
	"github.com/nimeninja/ingestd/internal/storage/filesystem"
	s3storage "github.com/nimeninja/ingestd/internal/storage/s3"
	"github.com/nimeninja/ingestd/internal/utils"
)

// shutdownTimeout bounds how long in-flight requests and sessions get to finish.
const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting ingestd",
		"port", cfg.Port,
		"db_type", cfg.DBType,
		"storage_backend", cfg.StorageBackend,
		"temp_dir", cfg.TempDir,
		"session_timeout", cfg.SessionTimeout(),
		"max_file_size", cfg.MaxFileSize,
		"redis_enabled", cfg.Redis.Addr != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ingestd stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	slog.Info("temp directory ready", "path", cfg.TempDir)

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	backend, err := newStorageBackend(ctx, cfg)
	if err != nil {
		return err
	}

	queue, err := newCleanupQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	finalizer := ingest.NewFinalizer(ingest.NewValidator(cfg.AllowedMimeTypes), backend, repos.Files, cfg.BaseURL)
	engine := ingest.NewEngine(ingest.Options{
		TempDir:        cfg.TempDir,
		SessionTimeout: cfg.SessionTimeout(),
		QueueDepth:     cfg.ChunkQueueDepth,
		SinkBufferSize: cfg.SinkBufferSize,
		MaxFileSize:    cfg.MaxFileSize,
		MaxTotalChunks: cfg.MaxTotalChunks,
		SpaceCheck:     diskSpaceCheck,
	}, finalizer)

	var resizeLimiter *middleware.RateLimiter
	if cfg.RateLimitResize > 0 {
		resizeLimiter = middleware.NewRateLimiter(cfg.RateLimitResize, time.Minute)
		defer resizeLimiter.Stop()
	}

	prometheus.MustRegister(metrics.NewFilesCollector(func(ctx context.Context) (int, error) {
		unused, err := repos.Files.ListUnused(ctx)
		return len(unused), err
	}))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(routerDeps{
			cfg:       cfg,
			engine:    engine,
			backend:   backend,
			repos:     repos,
			cleanup:   cleanup.NewService(repos.Files, queue),
			limiter:   resizeLimiter,
			startTime: time.Now(),
		}),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	worker := cleanup.NewWorker(queue, cleanup.NewProcessor(repos.Files, backend, cfg.TempDir))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return worker.Run(gctx)
	})

	g.Go(func() error {
		utils.StartTempSweeper(gctx, cfg.TempDir, cfg.TempMaxAge(), cfg.TempSweepInterval())
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "active_sessions", engine.ActiveSessions())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			server.Close()
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			slog.Error("upload sessions did not finish in time", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// routerDeps carries everything the HTTP surface needs.
type routerDeps struct {
	cfg       *config.Config
	engine    *ingest.Engine
	backend   storage.Backend
	repos     *repository.Repositories
	cleanup   handlers.CleanupEnqueuer
	limiter   *middleware.RateLimiter // nil disables resize rate limiting
	startTime time.Time
}

func newRouter(d routerDeps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /ws/file", gateway.NewHandler(d.engine, gateway.Options{
		AllowedOrigins:     d.cfg.AllowedOrigins,
		MaxMessageSize:     d.cfg.MaxMessageSize,
		OutboundQueueDepth: d.cfg.OutboundQueueDepth,
	}))

	var files http.Handler = handlers.NewFilesHandler(d.backend, d.cfg.MaxImageDimension)
	if d.limiter != nil {
		files = middleware.RateLimitMiddleware(d.limiter, "resize", isResizeRequest)(files)
	}
	mux.Handle("GET /api/files/{path...}", files)

	records := handlers.NewRecordsHandler(d.repos.Files)
	mux.HandleFunc("POST /api/file-records/{id}/used", records.MarkUsed)
	mux.HandleFunc("POST /api/file-records/{id}/unused", records.MarkUnused)
	mux.HandleFunc("POST /api/file-cleans/enqueue", handlers.CleanupEnqueueHandler(d.cleanup))

	mux.Handle("/health", handlers.NewHealthHandler(d.repos.Health, d.backend, d.engine, d.cfg.TempDir, d.startTime))
	mux.Handle("/health/live", handlers.LivenessHandler(d.repos.Health))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Wrap with middleware (order: Recovery -> Logging -> Metrics -> Security -> CORS -> handlers)
	return middleware.RecoveryMiddleware(
		middleware.LoggingMiddleware(
			metrics.Middleware(
				middleware.SecurityHeadersMiddleware(
					middleware.CORSMiddleware(d.cfg.AllowedOrigins)(mux),
				),
			),
		),
	)
}

// isResizeRequest selects retrieval requests that decode and re-encode an image.
func isResizeRequest(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("w") != "" || q.Get("h") != ""
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch repository.DatabaseType(cfg.DBType) {
	case repository.DatabaseTypePostgres:
		repos, err := postgres.NewRepositories(ctx, cfg.PostgreSQL)
		if err != nil {
			return nil, err
		}
		slog.Info("database initialized", "type", "postgres", "host", cfg.PostgreSQL.Host)
		return repos, nil
	default:
		db, err := database.Initialize(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		repos, err := sqlite.NewRepositories(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database initialized", "type", "sqlite", "path", cfg.DBPath)
		return repos, nil
	}
}

func newStorageBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.StorageBackend == "s3" {
		backend, err := s3storage.NewS3Storage(ctx, s3storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		slog.Info("storage backend ready", "type", "s3", "bucket", cfg.S3.Bucket)
		return backend, nil
	}

	backend, err := filesystem.NewFilesystemStorage(cfg.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem storage: %w", err)
	}
	slog.Info("storage backend ready", "type", "filesystem", "path", backend.Root())
	return backend, nil
}

func newCleanupQueue(ctx context.Context, cfg *config.Config) (cleanup.Queue, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("cleanup queue ready", "type", "memory")
		return cleanup.NewMemoryQueue(), nil
	}

	queue, err := cleanup.NewRedisQueue(ctx, cleanup.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Queue:    cfg.Redis.Queue,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("cleanup queue ready", "type", "redis", "addr", cfg.Redis.Addr, "queue", cfg.Redis.Queue)
	return queue, nil
}

// diskSpaceCheck refuses uploads the temp filesystem cannot hold.
func diskSpaceCheck(dir string, size int64) error {
	ok, reason, err := utils.CheckDiskSpace(dir, size, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(reason)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
