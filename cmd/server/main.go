// Package main is the entrypoint for the CVScreen API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiranshivaraju/cvscreen/internal/api"
	"github.com/kiranshivaraju/cvscreen/internal/api/handler"
	mw "github.com/kiranshivaraju/cvscreen/internal/api/middleware"
	"github.com/kiranshivaraju/cvscreen/internal/cache"
	"github.com/kiranshivaraju/cvscreen/internal/config"
	"github.com/kiranshivaraju/cvscreen/internal/queue"
	"github.com/kiranshivaraju/cvscreen/internal/storage"
	"github.com/kiranshivaraju/cvscreen/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"queue_backend", cfg.Queue.Backend,
		"storage_backend", cfg.Storage.Backend,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Open the queue (producer side)
	q, closeQueue, err := queue.New(cfg.Queue, redisCache.Client())
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer closeQueue()

	// 6. Open document storage
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Auth),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Auth.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": pgStore,
			"cache":    redisCache,
			"queue":    q,
		}),
		UploadHandler:   handler.NewUploadHandler(pgStore, blobs, cfg.Extract.MaxUploadBytes),
		EvaluateHandler: handler.NewEvaluateHandler(pgStore, q, redisCache),
		ResultHandler:   handler.NewResultHandler(pgStore, redisCache),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
