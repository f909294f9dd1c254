package tiles

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/tidewatch/internal/domain"
)

func testGridValues() []domain.GridValue {
	var values []domain.GridValue
	for lat := -60.0; lat <= 60.0; lat += 2 {
		for lon := -178.0; lon <= 178.0; lon += 2 {
			values = append(values, domain.GridValue{
				LatCenter: lat,
				LonCenter: lon,
				SSTC:      20.0 - lat/10,
			})
		}
	}
	return values
}

func TestRenderSSTTile_Deterministic(t *testing.T) {
	grid := NewSSTGrid(testGridValues())

	a, err := RenderSSTTile(grid, 1, 0, 0)
	require.NoError(t, err)
	b, err := RenderSSTTile(grid, 1, 0, 0)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a, b), "same grid must produce byte-identical tiles")
}

func TestRenderSSTTile_ValidPNG(t *testing.T) {
	grid := NewSSTGrid(testGridValues())

	data, err := RenderSSTTile(grid, 0, 0, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, TileSize, img.Bounds().Dx())
	assert.Equal(t, TileSize, img.Bounds().Dy())
}

func TestRenderSSTTile_EmptyGridIsTransparent(t *testing.T) {
	grid := NewSSTGrid(nil)
	assert.True(t, grid.Empty())

	data, err := RenderSSTTile(grid, 0, 0, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, alpha := img.At(128, 128).RGBA()
	assert.Zero(t, alpha)
}

func TestSSTGrid_SampleNearest(t *testing.T) {
	grid := NewSSTGrid([]domain.GridValue{
		{LatCenter: 40, LonCenter: -70, SSTC: 18.5},
		{LatCenter: 42, LonCenter: -70, SSTC: 17.0},
	})

	v, ok := grid.Sample(40.4, -70.3)
	require.True(t, ok)
	assert.Equal(t, 18.5, v)

	v, ok = grid.Sample(41.9, -69.8)
	require.True(t, ok)
	assert.Equal(t, 17.0, v)

	// Far from any cell: outside the data extent stays transparent.
	_, ok = grid.Sample(-30, 100)
	assert.False(t, ok)
}

func TestColorizeSST_RampEndpoints(t *testing.T) {
	cold := colorizeSST(-5)
	assert.EqualValues(t, 0, cold.R)
	assert.EqualValues(t, 255, cold.B)

	hot := colorizeSST(35)
	assert.EqualValues(t, 255, hot.R)
	assert.EqualValues(t, 0, hot.B)

	mid := colorizeSST(15)
	assert.EqualValues(t, 127, mid.R)
	assert.EqualValues(t, 128, mid.G)
}
