package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.OpsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "sources.yaml", cfg.SourcesFile)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 4, cfg.WorkerPool)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 24, cfg.QCWindowSize)
	assert.Equal(t, 3.0, cfg.QCSpreadMultiplier)
	assert.Equal(t, "tiles/cache", cfg.TileCacheDir)
	assert.Equal(t, 0, cfg.TileZoomMin)
	assert.Equal(t, 3, cfg.TileZoomMax)
	assert.Equal(t, 24, cfg.TileRetentionMonths)
	assert.Equal(t, "1991-2020", cfg.ClimatologyVersion)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tidewatch:pw@localhost:5432/tidewatch")
	t.Setenv("HTTP_ADDR", ":8888")
	t.Setenv("OPS_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("SOURCES_FILE", "/etc/tidewatch/sources.yaml")
	t.Setenv("FETCH_TIMEOUT", "90s")
	t.Setenv("JOB_TIMEOUT", "5m")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("SCHEDULER_TICK", "30s")
	t.Setenv("QC_WINDOW_SIZE", "48")
	t.Setenv("QC_SPREAD_MULTIPLIER", "2.5")
	t.Setenv("TILE_ZOOM_MIN", "1")
	t.Setenv("TILE_ZOOM_MAX", "5")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "ledger-events")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://tidewatch:pw@localhost:5432/tidewatch", cfg.DatabaseURL)
	assert.Equal(t, ":8888", cfg.HTTPAddr)
	assert.Equal(t, ":9999", cfg.OpsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/etc/tidewatch/sources.yaml", cfg.SourcesFile)
	assert.Equal(t, 90*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 8, cfg.WorkerPool)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, 48, cfg.QCWindowSize)
	assert.Equal(t, 2.5, cfg.QCSpreadMultiplier)
	assert.Equal(t, 1, cfg.TileZoomMin)
	assert.Equal(t, 5, cfg.TileZoomMax)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ledger-events", cfg.KafkaTopic)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_TinyQCWindowRejected(t *testing.T) {
	t.Setenv("QC_WINDOW_SIZE", "2")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QC_WINDOW_SIZE")
}

func TestLoad_InvalidZoomRange(t *testing.T) {
	t.Setenv("TILE_ZOOM_MIN", "4")
	t.Setenv("TILE_ZOOM_MAX", "2")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_NegativeTileRetentionRejected(t *testing.T) {
	t.Setenv("TILE_RETENTION_MONTHS", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TILE_RETENTION_MONTHS")
}
