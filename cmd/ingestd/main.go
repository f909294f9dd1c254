// Command ingestd is the ingestion daemon. It schedules periodic fetches of
// all registered sources, normalizes and quality-controls the payloads into
// Postgres, and regenerates map tiles when new gridded data lands. An ops
// HTTP server exposes health, readiness, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/tidewatch/tidewatch/internal/adapter/http"
	kafkaadapter "github.com/tidewatch/tidewatch/internal/adapter/kafka"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/ingest"
	"github.com/tidewatch/tidewatch/internal/observability"
	"github.com/tidewatch/tidewatch/internal/scheduler"
	"github.com/tidewatch/tidewatch/internal/source"
	"github.com/tidewatch/tidewatch/internal/store"
	"github.com/tidewatch/tidewatch/internal/tiles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	registry, err := source.LoadFile(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load source registry", "file", cfg.SourcesFile, "error", err)
		os.Exit(1)
	}
	logger.Info("source registry loaded", "file", cfg.SourcesFile, "sources", len(registry.All()))

	// Run event publishing is feature-flagged via KAFKA_ENABLED.
	var publisher ingest.RunPublisher
	var kp *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kp = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kp
		logger.Info("run event publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("run event publishing disabled")
	}

	fetcher := ingest.NewHTTPFetcher(cfg.FetchTimeout, logger, metrics)
	runner := ingest.NewRunner(st, st, st, fetcher, clock, logger, metrics, ingest.RunnerOptions{
		JobTimeout:         cfg.JobTimeout,
		QCWindowSize:       cfg.QCWindowSize,
		QCSpreadMultiplier: cfg.QCSpreadMultiplier,
		ClimatologyVersion: cfg.ClimatologyVersion,
		Publisher:          publisher,
	})

	generator := tiles.NewGenerator(st, logger, metrics, tiles.GeneratorOptions{
		CacheDir:    cfg.TileCacheDir,
		ZoomMin:     cfg.TileZoomMin,
		ZoomMax:     cfg.TileZoomMax,
		Concurrency: cfg.TileConcurrency,
		MemCacheMB:  cfg.TileMemCacheMB,
	})

	sched := scheduler.New(registry.All(), runner, generator, clock, logger,
		cfg.TickInterval, cfg.WorkerPool, cfg.TileRetentionMonths)

	srv := httpadapter.NewServer(cfg.OpsAddr, sched, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}
	if kp != nil {
		if err := kp.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
