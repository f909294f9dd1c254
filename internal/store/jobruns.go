package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tidewatch/tidewatch/internal/domain"
)

const createJobRunSQL = `
INSERT INTO tidewatch.job_runs (job_id, source_id, started_at, status)
VALUES ($1, $2, $3, $4)
`

// CreateJobRun appends a new running entry to the ledger.
func (s *Store) CreateJobRun(ctx context.Context, run domain.JobRun) error {
	_, err := s.pool.Exec(ctx, createJobRunSQL,
		run.JobID, run.SourceID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("create job run %s: %w", run.JobID, err)
	}
	return nil
}

const finalizeJobRunSQL = `
UPDATE tidewatch.job_runs
SET finished_at = $2, status = $3, rows_upserted = $4, rows_rejected = $5,
    error_detail = $6, watermark = $7
WHERE job_id = $1 AND status = 'running'
`

// FinalizeJobRun moves a run from running to its terminal state. The ledger
// is append-only in spirit: the status guard makes finalization happen at
// most once, and finalized rows are never touched again.
func (s *Store) FinalizeJobRun(ctx context.Context, run domain.JobRun) error {
	tag, err := s.pool.Exec(ctx, finalizeJobRunSQL,
		run.JobID, run.FinishedAt, run.Status, run.RowsUpserted, run.RowsRejected,
		run.ErrorDetail, run.Watermark)
	if err != nil {
		return fmt.Errorf("finalize job run %s: %w", run.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job run %s already finalized", run.JobID)
	}
	return nil
}

const lastWatermarkSQL = `
SELECT watermark
FROM tidewatch.job_runs
WHERE source_id = $1 AND status IN ('success', 'partial') AND watermark IS NOT NULL
ORDER BY finished_at DESC
LIMIT 1
`

// LastWatermark returns the most recent successfully advanced watermark for
// a source, or nil when the source has never completed a run.
func (s *Store) LastWatermark(ctx context.Context, sourceID string) (*time.Time, error) {
	var wm *time.Time
	err := s.pool.QueryRow(ctx, lastWatermarkSQL, sourceID).Scan(&wm)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return wm, nil
}

const lastSuccessSQL = `
SELECT DISTINCT ON (source_id) source_id, finished_at
FROM tidewatch.job_runs
WHERE status IN ('success', 'partial') AND finished_at IS NOT NULL
ORDER BY source_id, finished_at DESC
`

// LastSuccessPerSource returns each source's most recent successful (or
// partial) completion time. Sources with no successful run are absent.
func (s *Store) LastSuccessPerSource(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, lastSuccessSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var sourceID string
		var finished time.Time
		if err := rows.Scan(&sourceID, &finished); err != nil {
			return nil, err
		}
		out[sourceID] = finished
	}
	return out, rows.Err()
}

const latestRunsSQL = `
SELECT DISTINCT ON (source_id)
    job_id, source_id, started_at, finished_at, status,
    rows_upserted, rows_rejected, error_detail, watermark
FROM tidewatch.job_runs
ORDER BY source_id, started_at DESC
`

// LatestRunPerSource returns each source's most recent run regardless of
// outcome, for the status endpoint and monitoring.
func (s *Store) LatestRunPerSource(ctx context.Context) (map[string]domain.JobRun, error) {
	rows, err := s.pool.Query(ctx, latestRunsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.JobRun)
	for rows.Next() {
		var r domain.JobRun
		if err := rows.Scan(&r.JobID, &r.SourceID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.RowsUpserted, &r.RowsRejected, &r.ErrorDetail, &r.Watermark); err != nil {
			return nil, err
		}
		out[r.SourceID] = r
	}
	return out, rows.Err()
}
