// Command apiserver is the public query API. It serves station, observation,
// summary, freshness, and tile endpoints over HTTP, reading the state the
// ingestion daemon maintains in Postgres and on the tile cache volume.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/tidewatch/tidewatch/internal/api"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/observability"
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

	registry, err := source.LoadFile(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load source registry", "file", cfg.SourcesFile, "error", err)
		os.Exit(1)
	}

	// The API reuses the generator read path: cached or on-demand tiles,
	// never pyramid rebuilds. Those stay with the ingestion daemon.
	generator := tiles.NewGenerator(st, logger, metrics, tiles.GeneratorOptions{
		CacheDir:    cfg.TileCacheDir,
		ZoomMin:     cfg.TileZoomMin,
		ZoomMax:     cfg.TileZoomMax,
		Concurrency: cfg.TileConcurrency,
		MemCacheMB:  cfg.TileMemCacheMB,
	})

	srv := api.NewServer(cfg.HTTPAddr, st, generator, st, registry.All(), clock, logger, metrics)

	if err := srv.Run(ctx); err != nil {
		logger.Error("api server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
