package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// The same Config type feeds both the ingestion daemon and the query API;
// each binary reads the fields it needs.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	OpsAddr         string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Source registry and ingestion behavior.
	SourcesFile  string
	FetchTimeout time.Duration
	JobTimeout   time.Duration
	WorkerPool   int
	TickInterval time.Duration

	// Normalization / QC knobs. The trailing-window rule is deliberately
	// configurable; the exact production threshold is still being tuned.
	QCWindowSize       int
	QCSpreadMultiplier float64

	// Tile generation.
	TileCacheDir        string
	TileZoomMin         int
	TileZoomMax         int
	TileConcurrency     int
	TileMemCacheMB      int
	TileRetentionMonths int

	// Climatological baseline version used for anomaly computation.
	ClimatologyVersion string

	// Optional job-run ledger event egress.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment, applying defaults where
// unset. A local .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := envDuration("FETCH_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	jobTimeout, err := envDuration("JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	tick, err := envDuration("SCHEDULER_TICK", time.Minute)
	if err != nil {
		return nil, err
	}

	workerPool, err := envInt("WORKER_POOL_SIZE", 4)
	if err != nil {
		return nil, err
	}
	qcWindow, err := envInt("QC_WINDOW_SIZE", 24)
	if err != nil {
		return nil, err
	}
	qcMultiplier, err := envFloat("QC_SPREAD_MULTIPLIER", 3.0)
	if err != nil {
		return nil, err
	}
	zoomMin, err := envInt("TILE_ZOOM_MIN", 0)
	if err != nil {
		return nil, err
	}
	zoomMax, err := envInt("TILE_ZOOM_MAX", 3)
	if err != nil {
		return nil, err
	}
	tileConcurrency, err := envInt("TILE_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	tileMemCacheMB, err := envInt("TILE_MEM_CACHE_MB", 64)
	if err != nil {
		return nil, err
	}
	tileRetention, err := envInt("TILE_RETENTION_MONTHS", 24)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		OpsAddr:         envOrDefault("OPS_ADDR", ":9090"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SourcesFile:  envOrDefault("SOURCES_FILE", "sources.yaml"),
		FetchTimeout: fetchTimeout,
		JobTimeout:   jobTimeout,
		WorkerPool:   workerPool,
		TickInterval: tick,

		QCWindowSize:       qcWindow,
		QCSpreadMultiplier: qcMultiplier,

		TileCacheDir:        envOrDefault("TILE_CACHE_DIR", "tiles/cache"),
		TileZoomMin:         zoomMin,
		TileZoomMax:         zoomMax,
		TileConcurrency:     tileConcurrency,
		TileMemCacheMB:      tileMemCacheMB,
		TileRetentionMonths: tileRetention,

		ClimatologyVersion: envOrDefault("CLIMATOLOGY_VERSION", "1991-2020"),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "tidewatch-job-runs"),
	}

	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.WorkerPool <= 0 {
		return nil, errors.New("WORKER_POOL_SIZE must be positive")
	}
	if cfg.QCWindowSize < 3 {
		return nil, errors.New("QC_WINDOW_SIZE must be at least 3")
	}
	if cfg.QCSpreadMultiplier <= 0 {
		return nil, errors.New("QC_SPREAD_MULTIPLIER must be positive")
	}
	if cfg.TileZoomMin < 0 || cfg.TileZoomMax < cfg.TileZoomMin {
		return nil, errors.New("invalid TILE_ZOOM_MIN/TILE_ZOOM_MAX range")
	}
	if cfg.TileRetentionMonths < 0 {
		return nil, errors.New("TILE_RETENTION_MONTHS must not be negative")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
