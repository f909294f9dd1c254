package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tidewatch/tidewatch/internal/domain"
)

const upsertStationSQL = `
INSERT INTO tidewatch.stations (station_id, name, lat, lon, provider, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (station_id) DO UPDATE
SET name = EXCLUDED.name,
    lat = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lon = 0 THEN stations.lat ELSE EXCLUDED.lat END,
    lon = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lon = 0 THEN stations.lon ELSE EXCLUDED.lon END,
    provider = EXCLUDED.provider,
    active = EXCLUDED.active,
    updated_at = now()
`

// UpsertStation inserts or refreshes a station seen in a feed.
// Stations are never deleted; retirement flips active to false.
func (s *Store) UpsertStation(ctx context.Context, st domain.Station) error {
	_, err := s.pool.Exec(ctx, upsertStationSQL,
		st.StationID, st.Name, st.Lat, st.Lon, st.Provider, st.Active)
	if err != nil {
		return fmt.Errorf("upsert station %s: %w", st.StationID, err)
	}
	return nil
}

// BBox is a geographic bounding box filter: minLon, minLat, maxLon, maxLat.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// ParseBBox parses the "minLon,minLat,maxLon,maxLat" query form.
func ParseBBox(s string) (*BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox component %q is not a number", p)
		}
		vals[i] = v
	}
	b := &BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return nil, fmt.Errorf("bbox min exceeds max")
	}
	return b, nil
}

// ListStations returns stations, optionally restricted to a bounding box.
func (s *Store) ListStations(ctx context.Context, bbox *BBox) ([]domain.Station, error) {
	sql := `SELECT station_id, name, lat, lon, provider, active FROM tidewatch.stations`
	args := []any{}
	if bbox != nil {
		sql += ` WHERE lon >= $1 AND lon <= $2 AND lat >= $3 AND lat <= $4`
		args = append(args, bbox.MinLon, bbox.MaxLon, bbox.MinLat, bbox.MaxLat)
	}
	sql += ` ORDER BY station_id`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]domain.Station, 0)
	for rows.Next() {
		var st domain.Station
		if err := rows.Scan(&st.StationID, &st.Name, &st.Lat, &st.Lon, &st.Provider, &st.Active); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const upsertObservationSQL = `
INSERT INTO tidewatch.observations (station_id, obs_time, variable, value, qc_flag, source_id, job_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (station_id, obs_time, variable) DO UPDATE
SET value = EXCLUDED.value,
    qc_flag = EXCLUDED.qc_flag,
    source_id = EXCLUDED.source_id,
    job_id = EXCLUDED.job_id
`

// UpsertObservations writes a batch of observations with one atomic upsert
// per row. Re-ingesting identical reports is a no-op by key; the row count
// returned is the number of rows written (inserted or updated).
func (s *Store) UpsertObservations(ctx context.Context, obs []domain.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(upsertObservationSQL,
			o.StationID, o.Time, o.Variable, o.Value, o.QCFlag, o.SourceID, o.JobID)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range obs {
		if _, err := results.Exec(); err != nil {
			return written, fmt.Errorf("upsert observation: %w", err)
		}
		written++
	}
	return written, nil
}

// Cursor is an opaque keyset-pagination position on (obs_time, station_id).
// Keyset cursors stay stable under concurrent inserts, unlike offsets.
type Cursor struct {
	Time      time.Time
	StationID string
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.Time.UTC().Format(time.RFC3339Nano) + "|" + c.StationID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor")
	}
	return Cursor{Time: ts, StationID: parts[1]}, nil
}

// ObservationQuery filters an observation series read.
type ObservationQuery struct {
	StationID string
	// IncludeAll keeps qc_flag=4 rows in the result. The default (false)
	// is the good-only view: bad rows exist for audit, not for consumers.
	IncludeAll bool
	From       *time.Time
	To         *time.Time
	BBox       *BBox
	Limit      int
	Cursor     *Cursor
}

// Observations returns a page of observations ordered by
// (obs_time, station_id) ascending, plus the cursor for the next page
// (nil when the page was not full).
func (s *Store) Observations(ctx context.Context, q ObservationQuery) ([]domain.Observation, *Cursor, error) {
	if q.Limit <= 0 {
		q.Limit = 500
	}

	sql := strings.Builder{}
	sql.WriteString(`SELECT o.station_id, o.obs_time, o.variable, o.value, o.qc_flag, o.source_id
FROM tidewatch.observations o`)
	args := []any{}
	conds := []string{}

	if q.BBox != nil {
		sql.WriteString(` JOIN tidewatch.stations st ON st.station_id = o.station_id`)
		conds = append(conds,
			fmt.Sprintf("st.lon >= $%d AND st.lon <= $%d AND st.lat >= $%d AND st.lat <= $%d",
				len(args)+1, len(args)+2, len(args)+3, len(args)+4))
		args = append(args, q.BBox.MinLon, q.BBox.MaxLon, q.BBox.MinLat, q.BBox.MaxLat)
	}
	if q.StationID != "" {
		conds = append(conds, fmt.Sprintf("o.station_id = $%d", len(args)+1))
		args = append(args, q.StationID)
	}
	if !q.IncludeAll {
		conds = append(conds, fmt.Sprintf("o.qc_flag < $%d", len(args)+1))
		args = append(args, domain.QCBad)
	}
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("o.obs_time >= $%d", len(args)+1))
		args = append(args, *q.From)
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("o.obs_time <= $%d", len(args)+1))
		args = append(args, *q.To)
	}
	if q.Cursor != nil {
		conds = append(conds, fmt.Sprintf("(o.obs_time, o.station_id) > ($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, q.Cursor.Time, q.Cursor.StationID)
	}

	if len(conds) > 0 {
		sql.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sql.WriteString(fmt.Sprintf(" ORDER BY o.obs_time, o.station_id LIMIT $%d", len(args)+1))
	args = append(args, q.Limit)

	rows, err := s.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	obs := make([]domain.Observation, 0, q.Limit)
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.StationID, &o.Time, &o.Variable, &o.Value, &o.QCFlag, &o.SourceID); err != nil {
			return nil, nil, err
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *Cursor
	if len(obs) == q.Limit {
		last := obs[len(obs)-1]
		next = &Cursor{Time: last.Time, StationID: last.StationID}
	}
	return obs, next, nil
}

// SummaryPeriod selects the aggregation bucket width.
type SummaryPeriod string

const (
	SummaryDaily   SummaryPeriod = "daily"
	SummaryMonthly SummaryPeriod = "monthly"
)

// SummaryQuery filters an aggregation read.
type SummaryQuery struct {
	Period    SummaryPeriod
	StationID string
	From      *time.Time
	To        *time.Time
}

// SummaryRow is one aggregation bucket. Aggregates are computed at query
// time over the observation store, never materialized.
type SummaryRow struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
	MeanC  float64   `json:"mean_c"`
	MinC   float64   `json:"min_c"`
	MaxC   float64   `json:"max_c"`
}

// Summarize computes per-bucket mean/min/max/count of good and suspect
// observations (bad rows are excluded from aggregates).
func (s *Store) Summarize(ctx context.Context, q SummaryQuery) ([]SummaryRow, error) {
	trunc := "day"
	if q.Period == SummaryMonthly {
		trunc = "month"
	}

	sql := strings.Builder{}
	sql.WriteString(`SELECT date_trunc('` + trunc + `', obs_time) AS bucket,
COUNT(*), AVG(value), MIN(value), MAX(value)
FROM tidewatch.observations`)

	conds := []string{"qc_flag < " + strconv.Itoa(int(domain.QCBad))}
	args := []any{}
	if q.StationID != "" {
		conds = append(conds, fmt.Sprintf("station_id = $%d", len(args)+1))
		args = append(args, q.StationID)
	}
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("obs_time >= $%d", len(args)+1))
		args = append(args, *q.From)
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("obs_time <= $%d", len(args)+1))
		args = append(args, *q.To)
	}
	sql.WriteString(" WHERE " + strings.Join(conds, " AND "))
	sql.WriteString(" GROUP BY bucket ORDER BY bucket")

	rows, err := s.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SummaryRow, 0)
	for rows.Next() {
		var r SummaryRow
		if err := rows.Scan(&r.Bucket, &r.Count, &r.MeanC, &r.MinC, &r.MaxC); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
