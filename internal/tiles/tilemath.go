// Package tiles renders the map layers: SST rasters from the gridded
// monthly product and synthetic current vectors. Tiles are content
// addressed so unchanged months are never re-rendered.
package tiles

import "math"

// TileSize is the pixel edge of a raster tile.
const TileSize = 256

// TileBounds returns the geographic bounds of a web-mercator tile:
// lonMin, latMin, lonMax, latMax.
func TileBounds(z, x, y int) (float64, float64, float64, float64) {
	n := float64(int(1) << z)
	lonMin := float64(x)/n*360.0 - 180.0
	lonMax := float64(x+1)/n*360.0 - 180.0
	latMin := mercatorLat(float64(y+1) / n)
	latMax := mercatorLat(float64(y) / n)
	return lonMin, latMin, lonMax, latMax
}

// LonLatToTile returns fractional tile coordinates at a zoom level.
func LonLatToTile(lon, lat float64, z int) (float64, float64) {
	n := float64(int(1) << z)
	x := (lon + 180.0) / 360.0 * n
	latRad := lat * math.Pi / 180.0
	y := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n
	return x, y
}

// mercatorLat maps a normalized mercator y fraction (0 at the top) to
// degrees latitude.
func mercatorLat(yFrac float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*yFrac))) * 180.0 / math.Pi
}

// pixelLat returns the latitude at the center of pixel row py of a tile.
func pixelLat(z, y, py int) float64 {
	n := float64(int(1) << z)
	yFrac := (float64(y) + (float64(py)+0.5)/TileSize) / n
	return mercatorLat(yFrac)
}

// pixelLon returns the longitude at the center of pixel column px of a tile.
func pixelLon(z, x, px int) float64 {
	n := float64(int(1) << z)
	xFrac := (float64(x) + (float64(px)+0.5)/TileSize) / n
	return xFrac*360.0 - 180.0
}
