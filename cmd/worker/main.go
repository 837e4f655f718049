// Package main is the entrypoint for the CVScreen evaluation worker: it
// ingests the reference documents, then consumes evaluate-job items.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kiranshivaraju/cvscreen/internal/ai"
	"github.com/kiranshivaraju/cvscreen/internal/cache"
	"github.com/kiranshivaraju/cvscreen/internal/config"
	"github.com/kiranshivaraju/cvscreen/internal/evaluation"
	"github.com/kiranshivaraju/cvscreen/internal/extract"
	"github.com/kiranshivaraju/cvscreen/internal/queue"
	"github.com/kiranshivaraju/cvscreen/internal/retrieval"
	"github.com/kiranshivaraju/cvscreen/internal/storage"
	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"queue_backend", cfg.Queue.Backend,
		"concurrency", cfg.Queue.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database ready")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	if err := extract.SetLicense(cfg.Extract.UnidocLicenseKey); err != nil {
		return fmt.Errorf("set pdf license: %w", err)
	}
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	generator, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", generator.Name())

	// Ingest reference documents once per process start.
	refs, err := retrieval.LoadReferences(cfg.RAG.ReferenceDir)
	if err != nil {
		return fmt.Errorf("load reference documents: %w", err)
	}
	vectors := retrieval.NewPgVectorStore(pool, generator, refs, retrieval.Config{
		Collection:   cfg.RAG.Collection,
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		BatchSize:    cfg.RAG.EmbedBatchSize,
	})
	stats, err := vectors.Ingest(ctx)
	if err != nil {
		return fmt.Errorf("ingest reference documents: %w", err)
	}
	slog.Info("reference collection ready",
		"collection", cfg.RAG.Collection,
		"skipped", stats.Skipped,
		"dimensions", stats.Dimensions,
		"chunks", stats.Chunks)

	q, closeQueue, err := queue.New(cfg.Queue, redisCache.Client())
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer closeQueue()

	pgStore := store.NewPostgresStore(pool)
	if _, err := worker.ReplayQueued(ctx, pgStore, q, cfg.Queue.ReplayQueuedAfter); err != nil {
		slog.Error("replay of stale queued jobs failed", "error", err)
	}
	if failed, err := q.Failed(ctx, 50); err != nil {
		slog.Warn("could not list retained queue items", "error", err)
	} else if len(failed) > 0 {
		slog.Warn("queue holds retained failed items", "count", len(failed), "latest_reason", failed[0].FailedReason)
	}

	orchestrator := evaluation.NewOrchestrator(pgStore, extract.New(blobs), vectors, generator, evaluation.Config{
		TopK:             cfg.RAG.TopK,
		MaxDocumentBytes: cfg.Evaluation.MaxDocumentBytes,
	})
	consumer := worker.NewConsumer(q, pgStore, orchestrator, redisCache, worker.Config{
		Concurrency: cfg.Queue.Concurrency,
	})

	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}
