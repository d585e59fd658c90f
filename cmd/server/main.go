// Package main provides the entry point for the reference resolution service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/reference-resolution-service/internal/config"
	"github.com/helixir/reference-resolution-service/internal/content"
	"github.com/helixir/reference-resolution-service/internal/database"
	"github.com/helixir/reference-resolution-service/internal/jobs"
	"github.com/helixir/reference-resolution-service/internal/llm"
	"github.com/helixir/reference-resolution-service/internal/observability"
	"github.com/helixir/reference-resolution-service/internal/pubmed"
	"github.com/helixir/reference-resolution-service/internal/repository"
	"github.com/helixir/reference-resolution-service/internal/resolver"
	httpserver "github.com/helixir/reference-resolution-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("reference-resolution-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	entryRepo := repository.NewPgEntryRepository(db)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("refres")
	}

	// One PubMed client for the whole process so the NCBI rate limit is
	// enforced globally, not per job.
	pubmedClient := pubmed.New(pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		RateLimit:  cfg.PubMed.RateLimit,
		MaxRetries: cfg.PubMed.MaxRetries,
		Metrics:    metrics,
	})

	extractor, err := llm.NewTitleExtractor(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create title extractor: %w", err)
	}
	logger.Info().
		Str("provider", extractor.Provider()).
		Str("model", extractor.Model()).
		Msg("title extractor initialized")

	titleResolver := resolver.New(pubmedClient, resolver.Config{
		MatchThreshold: cfg.Resolver.MatchThreshold,
		MaxCandidates:  cfg.Resolver.MaxCandidates,
	}, logger)

	storage, err := content.NewStorage(cfg.Storage.CorpusDir)
	if err != nil {
		return fmt.Errorf("create artifact storage: %w", err)
	}
	pdfFetcher := content.NewPDFFetcher(content.PDFConfig{
		MaxSize: cfg.Storage.MaxPDFSize,
	})
	acquirer := content.NewAcquirer(pubmedClient, pdfFetcher, storage, logger)
	refBackfiller := content.NewRefBackfiller(pubmedClient, entryRepo, storage, logger)

	orchestrator := jobs.New(jobs.Deps{
		Extractor: extractor,
		Resolver:  titleResolver,
		Acquirer:  acquirer,
		Store:     entryRepo,
		Metrics:   metrics,
	}, jobs.Config{
		RetentionPeriod: cfg.Jobs.RetentionPeriod,
		ItemTimeout:     cfg.Jobs.ItemTimeout,
	}, logger)

	httpCfg := httpserver.Config{
		Address:      cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Metrics.Enabled {
		httpCfg.MetricsPath = cfg.Metrics.Path
		httpCfg.Metrics = metrics
	}

	httpSrv := httpserver.NewServer(httpCfg, orchestrator, entryRepo, storage, refBackfiller, db, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Msg("reference-resolution-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down reference-resolution-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first, then let running jobs wind down.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := orchestrator.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs aborted before finishing their current reference")
	}

	logger.Info().Msg("reference-resolution-service shutdown complete")
	return nil
}
