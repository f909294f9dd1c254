package parser

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// GridOptions selects what to extract from a grid file.
type GridOptions struct {
	// Variable is the data variable to read, e.g. "sst".
	Variable string

	// TimeMonth labels the extracted slice. Monthly product files carry one
	// month each and encode it in the filename, so the caller supplies it.
	TimeMonth time.Time

	// TimeIndex selects the time step within the file. Monthly files have
	// a single step, so this is almost always 0.
	TimeIndex int
}

// ParseGridFile opens a NetCDF grid file and extracts one month of one
// variable as flattened (lat, lon, value) points. Grid resolution, the
// coordinate axes, and the fill sentinel are all read from the file's
// embedded metadata, never assumed; if an upstream provider changes grid
// resolution the extracted cells follow the file.
func ParseGridFile(path string, opts GridOptions) (domain.GridSlice, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return domain.GridSlice{}, &domain.ParseError{
			SourceID: opts.Variable,
			Reason:   fmt.Sprintf("open netcdf %s: %v", path, err),
		}
	}
	defer nc.Close()

	return extractSlice(nc, opts)
}

func extractSlice(nc api.Group, opts GridOptions) (domain.GridSlice, error) {
	fail := func(format string, args ...any) (domain.GridSlice, error) {
		return domain.GridSlice{}, &domain.ParseError{
			SourceID: opts.Variable,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	vr, err := nc.GetVariable(opts.Variable)
	if err != nil {
		return fail("variable %q not found", opts.Variable)
	}

	latAxis, lats, err := coordinateAxis(nc, vr.Dimensions, "lat", "latitude")
	if err != nil {
		return fail("%v", err)
	}
	lonAxis, lons, err := coordinateAxis(nc, vr.Dimensions, "lon", "longitude")
	if err != nil {
		return fail("%v", err)
	}
	if len(lats) < 2 || len(lons) < 2 {
		return fail("degenerate grid: %d lat x %d lon", len(lats), len(lons))
	}

	fill, hasFill := attrFloat(vr.Attributes, "_FillValue")

	points, err := flattenGrid(vr.Values, vr.Dimensions, lats, lons, latAxis, lonAxis, opts.TimeIndex, fill, hasFill)
	if err != nil {
		return fail("%v", err)
	}

	return domain.GridSlice{
		TimeMonth: domain.TruncateToMonth(opts.TimeMonth),
		Variable:  opts.Variable,
		LatStep:   math.Abs(lats[1] - lats[0]),
		LonStep:   math.Abs(lons[1] - lons[0]),
		FillValue: fill,
		Points:    points,
	}, nil
}

// flattenGrid walks the variable's nested array and emits one point per
// (lat, lon) cell, converting fill-sentinel cells to nil values.
func flattenGrid(values any, dims []string, lats, lons []float64, latAxis, lonAxis, timeIdx int, fill float64, hasFill bool) ([]domain.GridPoint, error) {
	v := reflect.ValueOf(values)
	points := make([]domain.GridPoint, 0, len(lats)*len(lons))
	for li := 0; li < len(lats); li++ {
		for lj := 0; lj < len(lons); lj++ {
			cell, err := cellValue(v, dims, latAxis, lonAxis, li, lj, timeIdx)
			if err != nil {
				return nil, err
			}

			point := domain.GridPoint{Lat: lats[li], Lon: normalizeLon(lons[lj])}
			if !isMissing(cell, fill, hasFill) {
				val := cell
				point.Value = &val
			}
			points = append(points, point)
		}
	}
	return points, nil
}

// coordinateAxis finds a coordinate dimension of the variable by its common
// names and reads the corresponding coordinate variable.
func coordinateAxis(nc api.Group, dims []string, names ...string) (int, []float64, error) {
	for _, name := range names {
		for axis, d := range dims {
			if d != name {
				continue
			}
			cv, err := nc.GetVariable(name)
			if err != nil {
				return 0, nil, fmt.Errorf("coordinate variable %q missing", name)
			}
			coords, err := floatVector(cv.Values)
			if err != nil {
				return 0, nil, fmt.Errorf("coordinate variable %q: %w", name, err)
			}
			return axis, coords, nil
		}
	}
	return 0, nil, fmt.Errorf("no %v dimension on variable", names)
}

// cellValue walks the nested array down to a single cell. Dimensions other
// than lat/lon (time, lev, zlev) are fixed: the requested time index for the
// time axis, index 0 for singleton depth axes.
func cellValue(values reflect.Value, dims []string, latAxis, lonAxis, latIdx, lonIdx, timeIdx int) (float64, error) {
	v := values
	for axis := range dims {
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return 0, fmt.Errorf("variable shallower than its %d declared dimensions", len(dims))
		}
		var want int
		switch {
		case axis == latAxis:
			want = latIdx
		case axis == lonAxis:
			want = lonIdx
		case dims[axis] == "time":
			want = timeIdx
		default:
			want = 0
		}
		if want >= v.Len() {
			return 0, fmt.Errorf("index %d out of range for dimension %q (len %d)", want, dims[axis], v.Len())
		}
		v = v.Index(want)
	}
	return numericValue(v)
}

func numericValue(v reflect.Value) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	default:
		return 0, fmt.Errorf("unsupported cell type %s", v.Kind())
	}
}

func floatVector(values any) ([]float64, error) {
	v := reflect.ValueOf(values)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a vector, got %T", values)
	}
	out := make([]float64, v.Len())
	for i := range out {
		f, err := numericValue(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// attrFloat reads a scalar numeric attribute, tolerating the single-element
// slice encoding some writers use.
func attrFloat(attrs api.AttributeMap, name string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	raw, ok := attrs.Get(name)
	if !ok {
		return 0, false
	}
	v := reflect.ValueOf(raw)
	if v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			return 0, false
		}
		v = v.Index(0)
	}
	f, err := numericValue(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// isMissing treats the declared fill sentinel and NaN as absent cells.
// Comparison is loose because fill values round-trip through float32.
func isMissing(v, fill float64, hasFill bool) bool {
	if math.IsNaN(v) {
		return true
	}
	if !hasFill {
		return false
	}
	if fill == 0 {
		return v == 0
	}
	return math.Abs(v-fill) <= math.Abs(fill)*1e-5
}

// normalizeLon maps longitudes from the 0..360 convention used by ERSST
// into -180..180.
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
