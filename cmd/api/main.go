package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tableorder/api/internal/platform/config"
	"github.com/tableorder/api/internal/platform/idempotency"
	"github.com/tableorder/api/internal/platform/observability"
	"github.com/tableorder/api/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, startedAt time.Time) error {
	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	root, err := observability.NewLogger(env["LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = root.Sync() }()
	logger := root.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("init secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load config: %w", err)
	}
	build := buildInfoFromEnv(env, cfg, startedAt)

	store, err := openStorage(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	evts, err := openEvents(ctx, cfg, logger.Named("events"))
	if err != nil {
		return fmt.Errorf("open %s events: %w", cfg.Events.Driver, err)
	}
	defer evts.Close()

	handler, err := newHandler(ctx, cfg, build, store, evts, fetcher, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		httpLogger.Info("table order api listening",
			zap.String("storage", cfg.Storage.Driver),
			zap.String("events", cfg.Events.Driver),
			zap.String("version", build.Version),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		purgeIdempotency(gctx, store.Idempotency, cfg.Idempotency, logger.Named("idempotency"))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// purgeIdempotency drops expired idempotency records every CleanupInterval until ctx ends.
func purgeIdempotency(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	if cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		removed, err := store.Purge(purgeCtx, time.Now().UTC(), cfg.CleanupBatchSize)
		cancel()
		switch {
		case err != nil:
			logger.Error("idempotency purge failed", zap.Error(err))
		case removed > 0:
			logger.Info("idempotency records purged", zap.Int("count", removed))
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	value := func(v, fallback string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     value(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   value(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: value(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}
