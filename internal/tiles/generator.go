package tiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/observability"
)

// ArtifactStore is the persistence the generator needs: grid input rows and
// the tile artifact index.
type ArtifactStore interface {
	UpsertTileArtifact(ctx context.Context, a domain.TileArtifact) error
	GetTileArtifact(ctx context.Context, layer domain.TileLayer, z, x, y int, bucket string) (*domain.TileArtifact, error)
	EvictTilesBefore(ctx context.Context, layer domain.TileLayer, bucket string) (int64, error)
	GridValuesForMonth(ctx context.Context, month time.Time, version string) ([]domain.GridValue, error)
}

// GeneratorOptions carries the tile generation tunables.
type GeneratorOptions struct {
	CacheDir    string
	ZoomMin     int
	ZoomMax     int
	Concurrency int
	MemCacheMB  int
}

// Generator renders tile pyramids and serves tile bytes, backed by the
// artifact index on disk plus a bounded in-memory byte cache for hot tiles.
type Generator struct {
	store   ArtifactStore
	logger  *slog.Logger
	metrics *observability.Metrics
	cache   *byteCache
	opts    GeneratorOptions
}

// NewGenerator wires a Generator.
func NewGenerator(store ArtifactStore, logger *slog.Logger, metrics *observability.Metrics, opts GeneratorOptions) *Generator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Generator{
		store:   store,
		logger:  logger,
		metrics: metrics,
		cache:   newByteCache(opts.MemCacheMB * 1024 * 1024),
		opts:    opts,
	}
}

// ContentHash produces a deterministic digest of one month of grid rows.
// The store returns rows ordered by (lat, lon), so equal data always hashes
// equally and an unchanged month skips every render.
func ContentHash(values []domain.GridValue) string {
	h := sha256.New()
	for _, v := range values {
		fmt.Fprintf(h, "%s|%.4f|%.4f|%.4f|", v.TimeMonth.Format("2006-01"), v.LatCenter, v.LonCenter, v.SSTC)
		if v.SSTAnomC != nil {
			fmt.Fprintf(h, "%.4f", *v.SSTAnomC)
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateSST renders the SST raster pyramid for one month. Tiles whose
// recorded input hash matches the current grid are skipped.
func (g *Generator) GenerateSST(ctx context.Context, month time.Time, version string) error {
	values, err := g.store.GridValuesForMonth(ctx, month, version)
	if err != nil {
		return fmt.Errorf("load grid values: %w", err)
	}
	bucket := domain.MonthBucket(month)
	if len(values) == 0 {
		g.logger.Info("no grid values for month, skipping tile generation", "bucket", bucket, "version", version)
		return nil
	}

	hash := ContentHash(values)
	grid := NewSSTGrid(values)

	var rendered, skipped atomic.Int64
	err = g.forEachTile(ctx, func(ctx context.Context, z, x, y int) error {
		existing, err := g.store.GetTileArtifact(ctx, domain.LayerSST, z, x, y, bucket)
		if err != nil {
			return err
		}
		if existing != nil && existing.ContentHash == hash {
			skipped.Add(1)
			g.metrics.TilesSkipped.WithLabelValues(string(domain.LayerSST)).Inc()
			return nil
		}

		data, err := RenderSSTTile(grid, z, x, y)
		if err != nil {
			return fmt.Errorf("render sst %d/%d/%d: %w", z, x, y, err)
		}
		rendered.Add(1)
		return g.writeTile(ctx, domain.LayerSST, z, x, y, bucket, hash, data, "png")
	})
	if err != nil {
		return err
	}

	g.logger.Info("sst tiles generated",
		"bucket", bucket, "rendered", rendered.Load(), "skipped", skipped.Load())
	return nil
}

// GenerateCurrents renders the currents vector pyramid for one bucket. The
// synthetic field only changes when its formula version does, so a second
// generation is a full skip.
func (g *Generator) GenerateCurrents(ctx context.Context, bucket string) error {
	var rendered, skipped atomic.Int64
	err := g.forEachTile(ctx, func(ctx context.Context, z, x, y int) error {
		existing, err := g.store.GetTileArtifact(ctx, domain.LayerCurrents, z, x, y, bucket)
		if err != nil {
			return err
		}
		if existing != nil && existing.ContentHash == currentsFieldVersion {
			skipped.Add(1)
			g.metrics.TilesSkipped.WithLabelValues(string(domain.LayerCurrents)).Inc()
			return nil
		}

		data, err := RenderCurrentsTile(z, x, y)
		if err != nil {
			return fmt.Errorf("render currents %d/%d/%d: %w", z, x, y, err)
		}
		rendered.Add(1)
		return g.writeTile(ctx, domain.LayerCurrents, z, x, y, bucket, currentsFieldVersion, data, "mvt")
	})
	if err != nil {
		return err
	}

	g.logger.Info("currents tiles generated",
		"bucket", bucket, "rendered", rendered.Load(), "skipped", skipped.Load())
	return nil
}

// Tile returns the bytes and content hash of one tile for serving. Currents
// tiles are rendered lazily on first request; SST tiles require a prior
// generation pass and return nil bytes when absent.
func (g *Generator) Tile(ctx context.Context, layer domain.TileLayer, z, x, y int, bucket string) ([]byte, string, error) {
	artifact, err := g.store.GetTileArtifact(ctx, layer, z, x, y, bucket)
	if err != nil {
		return nil, "", err
	}
	if artifact == nil {
		if layer != domain.LayerCurrents {
			return nil, "", nil
		}
		data, err := RenderCurrentsTile(z, x, y)
		if err != nil {
			return nil, "", err
		}
		if err := g.writeTile(ctx, layer, z, x, y, bucket, currentsFieldVersion, data, "mvt"); err != nil {
			return nil, "", err
		}
		return data, currentsFieldVersion, nil
	}

	key := cacheKey(layer, bucket, z, x, y, artifact.ContentHash)
	if data, ok := g.cache.get(key); ok {
		g.metrics.TileCacheHits.WithLabelValues("hit").Inc()
		return data, artifact.ContentHash, nil
	}
	g.metrics.TileCacheHits.WithLabelValues("miss").Inc()

	data, err := os.ReadFile(artifact.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("read tile artifact: %w", err)
	}
	g.cache.put(key, data)
	return data, artifact.ContentHash, nil
}

// EvictBefore drops tile artifacts for buckets older than the cutoff
// (exclusive) from the index and removes their on-disk directories, for
// every layer. Bucket names are YYYY-MM, so lexical order is time order.
func (g *Generator) EvictBefore(ctx context.Context, bucket string) error {
	for _, layer := range []domain.TileLayer{domain.LayerSST, domain.LayerCurrents} {
		n, err := g.store.EvictTilesBefore(ctx, layer, bucket)
		if err != nil {
			return fmt.Errorf("evict %s tiles: %w", layer, err)
		}
		removed, err := g.removeBucketDirs(layer, bucket)
		if err != nil {
			return err
		}
		if n > 0 || removed > 0 {
			g.logger.Info("stale tiles evicted",
				"layer", layer, "cutoff", bucket, "index_rows", n, "buckets_removed", removed)
		}
	}
	return nil
}

func (g *Generator) removeBucketDirs(layer domain.TileLayer, cutoff string) (int, error) {
	layerDir := filepath.Join(g.opts.CacheDir, string(layer))
	entries, err := os.ReadDir(layerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() >= cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(layerDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove tile bucket %s/%s: %w", layer, e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// forEachTile runs fn for every (z, x, y) in the configured zoom range with
// bounded concurrency, stopping at the first error.
func (g *Generator) forEachTile(ctx context.Context, fn func(ctx context.Context, z, x, y int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)

	for z := g.opts.ZoomMin; z <= g.opts.ZoomMax; z++ {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				eg.Go(func() error {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fn(ctx, z, x, y)
				})
			}
		}
	}
	return eg.Wait()
}

func (g *Generator) writeTile(ctx context.Context, layer domain.TileLayer, z, x, y int, bucket, hash string, data []byte, ext string) error {
	path := g.tilePath(layer, bucket, z, x, y, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tile %s: %w", path, err)
	}

	if err := g.store.UpsertTileArtifact(ctx, domain.TileArtifact{
		Layer:       layer,
		Z:           z,
		X:           x,
		Y:           y,
		TimeBucket:  bucket,
		ContentHash: hash,
		StoragePath: path,
		ByteSize:    len(data),
	}); err != nil {
		return err
	}

	g.cache.put(cacheKey(layer, bucket, z, x, y, hash), data)
	g.metrics.TilesRendered.WithLabelValues(string(layer)).Inc()
	return nil
}

func (g *Generator) tilePath(layer domain.TileLayer, bucket string, z, x, y int, ext string) string {
	return filepath.Join(g.opts.CacheDir, string(layer), bucket,
		strconv.Itoa(z), strconv.Itoa(x), fmt.Sprintf("%d.%s", y, ext))
}

func cacheKey(layer domain.TileLayer, bucket string, z, x, y int, hash string) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d/%s", layer, bucket, z, x, y, hash)
}
