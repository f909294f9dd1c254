package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileBounds_WorldTile(t *testing.T) {
	lonMin, latMin, lonMax, latMax := TileBounds(0, 0, 0)
	assert.InDelta(t, -180, lonMin, 1e-9)
	assert.InDelta(t, 180, lonMax, 1e-9)
	assert.InDelta(t, -85.0511, latMin, 1e-3)
	assert.InDelta(t, 85.0511, latMax, 1e-3)
}

func TestTileBounds_QuadrantsAtZoom1(t *testing.T) {
	lonMin, latMin, lonMax, latMax := TileBounds(1, 0, 0)
	assert.InDelta(t, -180, lonMin, 1e-9)
	assert.InDelta(t, 0, lonMax, 1e-9)
	assert.InDelta(t, 0, latMin, 1e-9)
	assert.InDelta(t, 85.0511, latMax, 1e-3)

	lonMin, latMin, lonMax, latMax = TileBounds(1, 1, 1)
	assert.InDelta(t, 0, lonMin, 1e-9)
	assert.InDelta(t, 180, lonMax, 1e-9)
	assert.InDelta(t, -85.0511, latMin, 1e-3)
	assert.InDelta(t, 0, latMax, 1e-9)
}

func TestLonLatToTile_RoundTrip(t *testing.T) {
	for _, z := range []int{0, 1, 3} {
		x, y := LonLatToTile(-70.0, 40.0, z)
		lonMin, latMin, lonMax, latMax := TileBounds(z, int(x), int(y))
		assert.LessOrEqual(t, lonMin, -70.0)
		assert.Greater(t, lonMax, -70.0)
		assert.LessOrEqual(t, latMin, 40.0)
		assert.Greater(t, latMax, 40.0)
	}
}

func TestPixelCoordinatesStayInsideTile(t *testing.T) {
	lonMin, latMin, lonMax, latMax := TileBounds(2, 1, 1)

	for _, p := range []int{0, 128, 255} {
		lat := pixelLat(2, 1, p)
		lon := pixelLon(2, 1, p)
		assert.Greater(t, lat, latMin)
		assert.Less(t, lat, latMax)
		assert.Greater(t, lon, lonMin)
		assert.Less(t, lon, lonMax)
	}
}
