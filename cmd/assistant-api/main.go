// Package main provides the shop assistant API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cwf-platform/shop-assistant/internal/assistant"
	"github.com/cwf-platform/shop-assistant/internal/catalog"
	"github.com/cwf-platform/shop-assistant/internal/compose"
	"github.com/cwf-platform/shop-assistant/internal/config"
	"github.com/cwf-platform/shop-assistant/internal/embedding"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/llm"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
	"github.com/cwf-platform/shop-assistant/internal/retry"
	"github.com/cwf-platform/shop-assistant/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "shop-assistant",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("session", cfg.Session.Driver).
		Msg("Starting shop assistant API")

	pipeline, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer cleanup()

	sessions, err := buildSessionStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect session store")
	}
	defer sessions.Close()

	router := NewRouter(logger, pipeline, sessions)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

// buildPipeline wires the stage components from configuration. The returned
// cleanup closes the catalog store.
func buildPipeline(cfg *config.Config, logger *observability.Logger) (*assistant.Pipeline, func(), error) {
	store, err := buildCatalogStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	embedder, err := embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("embedding client: %w", err)
	}

	completions, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
		Timeout:     cfg.Completion.Timeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("completion client: %w", err)
	}

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
		InitialWait: cfg.Pipeline.RetryInitialWait,
	}

	var negation retrieval.NegationFilter
	if cfg.Pipeline.NegationStrategy == "embedding" {
		negation = retrieval.NewEmbeddingThresholdFilter(embedder, 0)
	} else {
		negation = retrieval.NewSubstringFilter()
	}

	retriever := retrieval.NewRetriever(store, embedder, negation, logger, retrieval.Config{
		Limit: cfg.Pipeline.ResultLimit,
		Retry: retryPolicy,
	})

	extractor := intent.NewExtractor(completions, logger, cfg.Pipeline.HistoryWindow, retryPolicy)
	composer := compose.NewComposer(completions, logger, retryPolicy)

	pipeline := assistant.NewPipeline(extractor, retriever, composer, logger, assistant.Config{
		HistoryWindow: cfg.Pipeline.HistoryWindow,
		TurnDeadline:  cfg.Pipeline.TurnDeadline,
	})

	return pipeline, cleanup, nil
}

func buildCatalogStore(cfg *config.Config) (catalog.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return catalog.NewPostgresStore(catalog.PostgresConfig{
			DSN:             cfg.Database.Postgres.DSN,
			MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
		})
	}
	return catalog.NewSQLiteStore(catalog.SQLiteConfig{
		Path:         cfg.Database.SQLite.Path,
		MaxOpenConns: cfg.Database.SQLite.MaxOpenConns,
	})
}

func buildSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Session.Driver == "redis" {
		return session.NewRedisStore(context.Background(), session.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			PoolSize: cfg.Session.Redis.PoolSize,
			TTL:      cfg.Session.TTL,
		})
	}
	return session.NewMemoryStore(), nil
}
