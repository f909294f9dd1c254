// Package store is the persistence layer: point observations, gridded
// monthly values, the append-only job run ledger, and the tile artifact
// index, all in Postgres behind a pgx pool.
//
// Every mutation is an atomic keyed upsert (INSERT ... ON CONFLICT), never
// read-then-write, so concurrent jobs writing disjoint rows are safe
// without coordination beyond the per-source job lock.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access for the ingestion pipeline and query API.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS tidewatch;

CREATE TABLE IF NOT EXISTS tidewatch.stations (
    station_id  text PRIMARY KEY,
    name        text NOT NULL DEFAULT '',
    lat         double precision NOT NULL,
    lon         double precision NOT NULL,
    provider    text NOT NULL,
    active      boolean NOT NULL DEFAULT true,
    created_at  timestamptz NOT NULL DEFAULT now(),
    updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tidewatch.observations (
    station_id  text NOT NULL,
    obs_time    timestamptz NOT NULL,
    variable    text NOT NULL,
    value       double precision NOT NULL,
    qc_flag     smallint NOT NULL DEFAULT 0,
    source_id   text NOT NULL,
    job_id      text NOT NULL,
    PRIMARY KEY (station_id, obs_time, variable)
);
CREATE INDEX IF NOT EXISTS observations_time_station
    ON tidewatch.observations (obs_time, station_id);

CREATE TABLE IF NOT EXISTS tidewatch.grid_values (
    time_month      timestamptz NOT NULL,
    lat_center      double precision NOT NULL,
    lon_center      double precision NOT NULL,
    sst_c           double precision NOT NULL,
    sst_anom_c      double precision,
    source_version  text NOT NULL,
    job_id          text NOT NULL,
    PRIMARY KEY (time_month, lat_center, lon_center, source_version)
);

CREATE TABLE IF NOT EXISTS tidewatch.climatology (
    month_of_year  smallint NOT NULL,
    lat_center     double precision NOT NULL,
    lon_center     double precision NOT NULL,
    baseline_c     double precision NOT NULL,
    version        text NOT NULL,
    PRIMARY KEY (month_of_year, lat_center, lon_center, version)
);

CREATE TABLE IF NOT EXISTS tidewatch.job_runs (
    job_id         text PRIMARY KEY,
    source_id      text NOT NULL,
    started_at     timestamptz NOT NULL,
    finished_at    timestamptz,
    status         text NOT NULL,
    rows_upserted  integer NOT NULL DEFAULT 0,
    rows_rejected  integer NOT NULL DEFAULT 0,
    error_detail   text NOT NULL DEFAULT '',
    watermark      timestamptz
);
CREATE INDEX IF NOT EXISTS job_runs_source_finished
    ON tidewatch.job_runs (source_id, finished_at DESC);

CREATE TABLE IF NOT EXISTS tidewatch.tile_artifacts (
    layer         text NOT NULL,
    z             integer NOT NULL,
    x             integer NOT NULL,
    y             integer NOT NULL,
    time_bucket   text NOT NULL,
    content_hash  text NOT NULL,
    storage_path  text NOT NULL,
    byte_size     integer NOT NULL,
    created_at    timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (layer, z, x, y, time_bucket)
);
`

// EnsureSchema creates the tidewatch schema and tables if absent.
// Idempotent; runs at daemon startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
