package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tidewatch/tidewatch/internal/domain"
)

const upsertGridValueSQL = `
INSERT INTO tidewatch.grid_values (time_month, lat_center, lon_center, sst_c, sst_anom_c, source_version, job_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (time_month, lat_center, lon_center, source_version) DO UPDATE
SET sst_c = EXCLUDED.sst_c,
    sst_anom_c = EXCLUDED.sst_anom_c,
    job_id = EXCLUDED.job_id
`

// UpsertGridValues writes a batch of grid cells, one atomic upsert per cell.
func (s *Store) UpsertGridValues(ctx context.Context, values []domain.GridValue) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(upsertGridValueSQL,
			v.TimeMonth, v.LatCenter, v.LonCenter, v.SSTC, v.SSTAnomC, v.SourceVersion, v.JobID)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range values {
		if _, err := results.Exec(); err != nil {
			return written, fmt.Errorf("upsert grid value: %w", err)
		}
		written++
	}
	return written, nil
}

const gridValuesForMonthSQL = `
SELECT time_month, lat_center, lon_center, sst_c, sst_anom_c, source_version
FROM tidewatch.grid_values
WHERE time_month = $1 AND source_version = $2
ORDER BY lat_center, lon_center
`

// GridValuesForMonth returns every cell of one month of one product,
// ordered deterministically so content hashing over the rows is stable.
func (s *Store) GridValuesForMonth(ctx context.Context, month time.Time, version string) ([]domain.GridValue, error) {
	rows, err := s.pool.Query(ctx, gridValuesForMonthSQL, domain.TruncateToMonth(month), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]domain.GridValue, 0)
	for rows.Next() {
		var v domain.GridValue
		if err := rows.Scan(&v.TimeMonth, &v.LatCenter, &v.LonCenter, &v.SSTC, &v.SSTAnomC, &v.SourceVersion); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

const climatologySQL = `
SELECT month_of_year, lat_center, lon_center, baseline_c
FROM tidewatch.climatology
WHERE version = $1
`

// Climatology loads the full baseline for one version, keyed for the
// per-cell anomaly lookup done at ingestion time.
func (s *Store) Climatology(ctx context.Context, version string) (map[domain.ClimKey]float64, error) {
	rows, err := s.pool.Query(ctx, climatologySQL, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	baseline := make(map[domain.ClimKey]float64)
	for rows.Next() {
		var month int
		var lat, lon, c float64
		if err := rows.Scan(&month, &lat, &lon, &c); err != nil {
			return nil, err
		}
		baseline[domain.ClimKey{Month: month, Lat: lat, Lon: lon}] = c
	}
	return baseline, rows.Err()
}

const upsertClimatologySQL = `
INSERT INTO tidewatch.climatology (month_of_year, lat_center, lon_center, baseline_c, version)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (month_of_year, lat_center, lon_center, version) DO UPDATE
SET baseline_c = EXCLUDED.baseline_c
`

// ClimatologyRow is one baseline cell for seeding.
type ClimatologyRow struct {
	Month    int
	Lat, Lon float64
	Baseline float64
}

// SeedClimatology loads baseline rows, typically once at deploy time from a
// prepared climatology extract.
func (s *Store) SeedClimatology(ctx context.Context, version string, rows []ClimatologyRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertClimatologySQL, r.Month, r.Lat, r.Lon, r.Baseline, version)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("seed climatology: %w", err)
		}
	}
	return nil
}
