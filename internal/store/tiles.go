package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tidewatch/tidewatch/internal/domain"
)

const upsertTileSQL = `
INSERT INTO tidewatch.tile_artifacts (layer, z, x, y, time_bucket, content_hash, storage_path, byte_size, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (layer, z, x, y, time_bucket) DO UPDATE
SET content_hash = EXCLUDED.content_hash,
    storage_path = EXCLUDED.storage_path,
    byte_size = EXCLUDED.byte_size,
    created_at = now()
`

// UpsertTileArtifact records a rendered tile in the artifact index.
func (s *Store) UpsertTileArtifact(ctx context.Context, a domain.TileArtifact) error {
	_, err := s.pool.Exec(ctx, upsertTileSQL,
		a.Layer, a.Z, a.X, a.Y, a.TimeBucket, a.ContentHash, a.StoragePath, a.ByteSize)
	if err != nil {
		return fmt.Errorf("upsert tile %s/%d/%d/%d@%s: %w", a.Layer, a.Z, a.X, a.Y, a.TimeBucket, err)
	}
	return nil
}

const getTileSQL = `
SELECT layer, z, x, y, time_bucket, content_hash, storage_path, byte_size, created_at
FROM tidewatch.tile_artifacts
WHERE layer = $1 AND z = $2 AND x = $3 AND y = $4 AND time_bucket = $5
`

// GetTileArtifact looks up one tile; returns nil when absent.
func (s *Store) GetTileArtifact(ctx context.Context, layer domain.TileLayer, z, x, y int, bucket string) (*domain.TileArtifact, error) {
	var a domain.TileArtifact
	err := s.pool.QueryRow(ctx, getTileSQL, layer, z, x, y, bucket).Scan(
		&a.Layer, &a.Z, &a.X, &a.Y, &a.TimeBucket, &a.ContentHash, &a.StoragePath, &a.ByteSize, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

const evictTilesSQL = `
DELETE FROM tidewatch.tile_artifacts
WHERE layer = $1 AND time_bucket < $2
`

// EvictTilesBefore drops artifact index entries for buckets older than the
// cutoff (exclusive). The caller removes the files.
func (s *Store) EvictTilesBefore(ctx context.Context, layer domain.TileLayer, bucket string) (int64, error) {
	tag, err := s.pool.Exec(ctx, evictTilesSQL, layer, bucket)
	if err != nil {
		return 0, fmt.Errorf("evict tiles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
