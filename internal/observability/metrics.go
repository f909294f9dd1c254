package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and the query API.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // labels: source, status={success,partial,failed}
	RowsUpserted *prometheus.CounterVec // labels: source
	RowsRejected *prometheus.CounterVec // labels: source
	RunDuration  *prometheus.HistogramVec
	RunsInFlight prometheus.Gauge

	FetchRetries  prometheus.Counter
	FetchFailures *prometheus.CounterVec // labels: source

	// Tile rendering metrics.
	TilesRendered *prometheus.CounterVec // labels: layer
	TilesSkipped  *prometheus.CounterVec // labels: layer
	TileCacheHits *prometheus.CounterVec // labels: result={hit,miss}

	// Query API metrics.
	RequestDuration *prometheus.HistogramVec // labels: route, status
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RowsUpserted,
		m.RowsRejected,
		m.RunDuration,
		m.RunsInFlight,
		m.FetchRetries,
		m.FetchFailures,
		m.TilesRendered,
		m.TilesSkipped,
		m.TileCacheHits,
		m.RequestDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "ingest_runs_total",
			Help:      "Completed ingestion runs by source and terminal status.",
		}, []string{"source", "status"}),
		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "rows_upserted_total",
			Help:      "Rows written to the observation and grid stores.",
		}, []string{"source"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "rows_rejected_total",
			Help:      "Records rejected during validation.",
		}, []string{"source"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tidewatch",
			Name:      "ingest_run_duration_seconds",
			Help:      "Wall-clock duration of a complete ingestion run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tidewatch",
			Name:      "ingest_runs_in_flight",
			Help:      "Number of ingestion runs currently executing.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "fetch_retries_total",
			Help:      "Upstream fetch attempts beyond the first.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "fetch_failures_total",
			Help:      "Fetches that exhausted retries and the mirror.",
		}, []string{"source"}),
		TilesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "tiles_rendered_total",
			Help:      "Tiles rendered and written to the artifact store.",
		}, []string{"layer"}),
		TilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "tiles_skipped_total",
			Help:      "Tile renders skipped because the input hash was unchanged.",
		}, []string{"layer"}),
		TileCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "tile_cache_lookups_total",
			Help:      "In-memory tile byte cache lookups by result.",
		}, []string{"result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tidewatch",
			Name:      "http_request_duration_seconds",
			Help:      "Query API request duration by route and status code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}
