// Package main provides the entry point for the batch match request worker.
// It consumes match requests from Kafka and runs them through the matching
// pipeline with saving enabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"


	"github.com/helixir/docmatch-service/internal/config"
	"github.com/helixir/docmatch-service/internal/database"
	"github.com/helixir/docmatch-service/internal/docmatch"
	"github.com/helixir/docmatch-service/internal/events"
	"github.com/helixir/docmatch-service/internal/observability"
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
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka must be enabled to run the worker")
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("docmatch-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// The worker never migrates; refuse to consume against an unmigrated store.
	if health := db.Health(ctx); !health.SchemaReady {
		return fmt.Errorf("match store not ready: %s", health.Error)
	}

	publisher := events.NewPublisher(events.PublisherConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.MatchTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	}, logger, metrics)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close event publisher")
		}
	}()

	service, cleanup, err := docmatch.NewFromConfig(ctx, cfg, db, publisher, logger, metrics)
	defer cleanup()
	if err != nil {
		return fmt.Errorf("build docmatch service: %w", err)
	}

	listener := events.NewListener(events.ListenerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestTopic,
		GroupID: cfg.Kafka.GroupID,
	}, service.HandleMessage, logger, metrics)
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close request listener")
		}
	}()

	// Expose metrics on the metrics port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Server.MetricsAddress(), cfg.Metrics.Path,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.RequestTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("docmatch-service worker is ready")

	runErr := listener.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("request listener: %w", runErr)
	}

	logger.Info().Msg("docmatch-service worker shutdown complete")
	return nil
}
