// Package main is the entrypoint for the stockmeta API server.
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

	"github.com/kiranshivaraju/stockmeta/internal/ai"
	"github.com/kiranshivaraju/stockmeta/internal/api"
	"github.com/kiranshivaraju/stockmeta/internal/api/handler"
	mw "github.com/kiranshivaraju/stockmeta/internal/api/middleware"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/internal/credential"
	"github.com/kiranshivaraju/stockmeta/internal/state"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	config.LoadDotEnv()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the state store
	store, backend, err := openStateStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("state store ready", "backend", backend)

	// 3. Wire the application
	app, err := newApp(ctx, cfg, store, backend)
	if err != nil {
		return err
	}
	defer app.manager.Shutdown()

	// 4. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.handler,
		ReadTimeout:  5 * time.Minute,
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

// openStateStore connects to Redis when configured and falls back to memory.
func openStateStore(ctx context.Context, cfg config.RedisConfig) (state.Store, string, error) {
	if cfg.URL == "" {
		return state.NewMemoryStore(), "memory", nil
	}
	rs, err := state.NewRedisStore(cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("create redis store: %w", err)
	}
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, "", fmt.Errorf("ping redis: %w", err)
	}
	return rs, "redis", nil
}

type app struct {
	handler http.Handler
	manager *batch.Manager
	pool    *credential.Pool
	tracker *state.ActivityTracker
}

// newApp builds the credential pool, provider registry, batch manager and router.
func newApp(ctx context.Context, cfg *config.Config, store state.Store, backend string) (*app, error) {
	pool := credential.NewPool(state.NewCredentialStore(store))
	if err := pool.Load(ctx); err != nil {
		return nil, err
	}
	for _, kind := range models.ProviderKinds() {
		if n := pool.Seed(ctx, kind, cfg.AI.APIKeys(string(kind))); n > 0 {
			slog.Info("seeded api keys from environment", "provider", kind, "count", n)
		}
	}

	registry, err := ai.NewRegistry(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI providers: %w", err)
	}

	tracker := state.NewActivityTracker(store)
	manager := batch.NewManager(ctx, pool, registry, batch.Options{
		RequestDelay:     cfg.Batch.RequestDelay,
		RateLimitBackoff: cfg.Batch.RateLimitBackoff,
		PollInterval:     cfg.Batch.PausePoll,
	})
	manager.OnFinish = func(info batch.Info) {
		trackCtx := context.WithoutCancel(ctx)
		desc := fmt.Sprintf("Generated metadata for %d of %d files", info.Stats.Completed, info.Stats.Total)
		if _, err := tracker.Track(trackCtx, info.Actor, models.ActivityMetadataGenerated, desc, map[string]any{
			"batch_id": info.ID.String(),
			"provider": info.Provider,
			"model":    info.Model,
			"failed":   info.Stats.Failed,
		}); err != nil {
			slog.Warn("tracking batch completion failed", "error", err, "batch_id", info.ID)
		}
	}

	defaultProvider, err := models.ParseProviderKind(cfg.AI.Provider)
	if err != nil {
		return nil, err
	}
	limits := handler.UploadLimits{
		MaxFiles:        cfg.Batch.MaxFiles,
		MaxBytes:        cfg.Server.UploadMaxBytes,
		MaxEdge:         cfg.Media.MaxEdge,
		DefaultProvider: defaultProvider,
	}

	auth := mw.NewAuth(cfg.Server.APITokenHash)
	if !auth.Enabled() {
		slog.Warn("STOCKMETA_API_TOKEN_HASH not set, API is unauthenticated")
	}

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(store, cfg.Server.RateLimitPerMin),

		HealthHandler:    handler.NewHealthHandler(store, backend),
		ProvidersHandler: handler.NewProvidersHandler(registry),
		PlatformsHandler: handler.NewPlatformsHandler(),

		CreateCredentialHandler: handler.NewCreateCredentialHandler(pool, tracker),
		ListCredentialsHandler:  handler.NewListCredentialsHandler(pool),
		UpdateCredentialHandler: handler.NewUpdateCredentialHandler(pool),
		DeleteCredentialHandler: handler.NewDeleteCredentialHandler(pool),

		StartBatchHandler:  handler.NewStartBatchHandler(manager, registry, tracker, limits),
		ListBatchesHandler: handler.NewListBatchesHandler(manager),
		GetBatchHandler:    handler.NewGetBatchHandler(manager),
		PauseBatchHandler:  handler.NewPauseBatchHandler(manager),
		ResumeBatchHandler: handler.NewResumeBatchHandler(manager),
		RetryBatchHandler:  handler.NewRetryBatchHandler(manager),
		ResetBatchHandler:  handler.NewResetBatchHandler(manager),
		ExportHandler:      handler.NewExportHandler(manager, tracker, time.Now),

		ListActivitiesHandler: handler.NewListActivitiesHandler(tracker),
		ActivityStatsHandler:  handler.NewActivityStatsHandler(tracker),
	}

	return &app{
		handler: api.NewRouter(deps),
		manager: manager,
		pool:    pool,
		tracker: tracker,
	}, nil
}
