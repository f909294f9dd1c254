package tiles

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// Color ramp range: 0 °C maps to blue, rampMaxC to red. Values outside the
// range are clamped, matching the fixed ramp the frontend legend assumes.
const rampMaxC = 30.0

type cell struct{ lat, lon float64 }

// SSTGrid is a nearest-cell sampler over one month of grid values.
type SSTGrid struct {
	cells   map[cell]float64
	lats    []float64
	lons    []float64
	latStep float64
	lonStep float64
}

// NewSSTGrid indexes grid values for sampling. The step is inferred from
// the coordinate spacing so any regular grid resolution works.
func NewSSTGrid(values []domain.GridValue) *SSTGrid {
	g := &SSTGrid{cells: make(map[cell]float64, len(values))}

	latSet := make(map[float64]struct{})
	lonSet := make(map[float64]struct{})
	for _, v := range values {
		g.cells[cell{v.LatCenter, v.LonCenter}] = v.SSTC
		latSet[v.LatCenter] = struct{}{}
		lonSet[v.LonCenter] = struct{}{}
	}
	g.lats = sortedKeys(latSet)
	g.lons = sortedKeys(lonSet)
	g.latStep = minStep(g.lats)
	g.lonStep = minStep(g.lons)
	return g
}

// Sample returns the value of the grid cell nearest to (lat, lon), or false
// when the nearest cell is farther than one grid step away or holds no
// value (land, ice).
func (g *SSTGrid) Sample(lat, lon float64) (float64, bool) {
	nlat, ok := nearest(g.lats, lat, g.latStep)
	if !ok {
		return 0, false
	}
	nlon, ok := nearest(g.lons, lon, g.lonStep)
	if !ok {
		return 0, false
	}
	v, ok := g.cells[cell{nlat, nlon}]
	return v, ok
}

// Empty reports whether the grid holds no cells at all.
func (g *SSTGrid) Empty() bool {
	return len(g.cells) == 0
}

// RenderSSTTile rasterizes one web-mercator tile from the grid as a PNG.
// Pixels with no nearby ocean cell are fully transparent. The encoding is
// deterministic: the same grid always yields byte-identical tiles.
func RenderSSTTile(grid *SSTGrid, z, x, y int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))

	for py := 0; py < TileSize; py++ {
		lat := pixelLat(z, y, py)
		for px := 0; px < TileSize; px++ {
			v, ok := grid.Sample(lat, pixelLon(z, x, px))
			if !ok {
				continue
			}
			img.SetNRGBA(px, py, colorizeSST(v))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// colorizeSST maps a temperature to the blue-to-red ramp.
func colorizeSST(c float64) color.NRGBA {
	t := math.Min(math.Max(c, 0), rampMaxC) / rampMaxC
	return color.NRGBA{
		R: uint8(t * 255),
		G: 128,
		B: uint8((1 - t) * 255),
		A: 255,
	}
}

func sortedKeys(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// minStep returns the smallest spacing between adjacent coordinates, or 0
// for fewer than two coordinates.
func minStep(sorted []float64) float64 {
	step := 0.0
	for i := 1; i < len(sorted); i++ {
		d := sorted[i] - sorted[i-1]
		if step == 0 || d < step {
			step = d
		}
	}
	return step
}

// nearest finds the closest coordinate to v, rejecting anything farther
// than one grid step so tiles outside the data extent stay transparent.
func nearest(sorted []float64, v, step float64) (float64, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	i := sort.SearchFloat64s(sorted, v)
	best := math.NaN()
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(sorted) {
			continue
		}
		if math.IsNaN(best) || math.Abs(sorted[j]-v) < math.Abs(best-v) {
			best = sorted[j]
		}
	}
	if math.IsNaN(best) {
		return 0, false
	}
	if step > 0 && math.Abs(best-v) > step {
		return 0, false
	}
	return best, true
}
