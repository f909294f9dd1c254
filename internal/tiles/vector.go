package tiles

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// currentsFieldVersion tags the synthetic field formula. Bump it when the
// formula changes so cached tiles regenerate.
const currentsFieldVersion = "synthetic-rotational-v1"

// currentsLayerName is the layer name clients select in the vector tile.
const currentsLayerName = "currents"

// RenderCurrentsTile encodes one MVT tile of current vectors. Until a real
// currents product is ingested the field is synthetic: a rotational flow
// around (0, 0) with u = -lat/90 and v = lon/180, marked is_synthetic so
// clients can label it.
func RenderCurrentsTile(z, x, y int) ([]byte, error) {
	lonMin, latMin, lonMax, latMax := TileBounds(z, x, y)

	step := 10.0
	if z >= 3 {
		step = 5.0
	}

	fc := geojson.NewFeatureCollection()
	id := 1
	// Sample points snap to the global step grid so vectors line up across
	// tile seams.
	for lon := math.Ceil(lonMin/step) * step; lon < lonMax; lon += step {
		for lat := math.Ceil(latMin/step) * step; lat < latMax; lat += step {
			u := -lat / 90.0
			v := lon / 180.0

			f := geojson.NewFeature(orb.LineString{
				{lon, lat},
				{lon + u*2, lat + v*2},
			})
			f.ID = float64(id)
			f.Properties = geojson.Properties{
				"u":            u,
				"v":            v,
				"speed_m_s":    math.Hypot(u, v),
				"is_synthetic": true,
			}
			fc.Append(f)
			id++
		}
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{currentsLayerName: fc})
	layers.ProjectToTile(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	return mvt.Marshal(layers)
}
