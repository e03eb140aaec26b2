package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rejestr/bulkio/internal/blob"
	"github.com/rejestr/bulkio/internal/config"
	"github.com/rejestr/bulkio/internal/core"
	"github.com/rejestr/bulkio/internal/logging"
	"github.com/rejestr/bulkio/internal/queue"
	"github.com/rejestr/bulkio/internal/store"
	"github.com/rejestr/bulkio/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"workers", cfg.Engine.Workers,
		"batch_size", cfg.Engine.BatchSize,
	)

	ctx := context.Background()

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(cfg.Redis)
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		slog.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}

	var blobs core.BlobStore
	if cfg.Blob.S3Bucket != "" {
		s3Store, err := blob.NewS3Store(ctx, cfg.Blob)
		if err != nil {
			slog.Error("failed to configure s3 blob store", "error", err)
			os.Exit(1)
		}
		blobs = s3Store
		slog.Info("blob storage: s3", "bucket", cfg.Blob.S3Bucket)
	} else {
		blobs = blob.NewLocalStore(cfg.Blob.LocalDir)
		slog.Info("blob storage: local", "dir", cfg.Blob.LocalDir)
	}

	core.MaxFileSize = cfg.Engine.MaxFileSize

	service := core.NewService(core.Deps{
		Clients:   db,
		Jobs:      db,
		Templates: db,
		Mutations: db,
		Blobs:     blobs,
		Queue:     q,
		Audit:     store.NewAuditSink(db),
		AuditLog:  db,
		BatchSize: cfg.Engine.BatchSize,
	})

	server := web.NewServer(service, cfg.Engine)

	// Background workers consume the job queue
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	for i := 0; i < cfg.Engine.Workers; i++ {
		w := core.NewWorker(service, cfg.Engine.PollInterval)
		go func(id int) {
			if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				slog.Error("worker stopped", "worker", id, "error", err)
			}
		}(i)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelWorkers()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
