package domain

import "time"

// SourceFormat identifies which parser family handles a source's payloads.
type SourceFormat string

const (
	FormatBuoyText   SourceFormat = "buoy_text"
	FormatGridNetCDF SourceFormat = "grid_netcdf"
)

// Source describes one external data provider. Sources are immutable
// reference data, loaded from the registry catalog at deploy time.
type Source struct {
	ID       string
	Name     string
	Format   SourceFormat
	Cadence  time.Duration
	Endpoint string
	Mirror   string

	// Stations lists the station IDs to fetch for buoy_text sources.
	// The endpoint template's {station} placeholder is filled per station.
	Stations []string

	// Version tags the upstream product revision for grid sources
	// (e.g. "ersst-v5"). Part of the grid value uniqueness key.
	Version string
}

// Station is a fixed observation point. Stations are created when first
// seen in a feed and never hard-deleted; retired stations go inactive.
type Station struct {
	StationID string  `json:"station_id"`
	Name      string  `json:"name,omitempty"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Provider  string  `json:"provider"`
	Active    bool    `json:"active"`
}

// QC flag values. See the package documentation for semantics.
const (
	QCGood    int16 = 0
	QCSuspect int16 = 2
	QCBad     int16 = 4
)

// VariableSST is the only measured variable in phase 1.
const VariableSST = "sst"

// Observation is one point-in-time measurement. (StationID, Time, Variable)
// is the uniqueness key: re-ingesting the same report is an upsert, not a
// duplicate insert.
type Observation struct {
	StationID string    `json:"station_id"`
	Time      time.Time `json:"time"`
	Variable  string    `json:"variable"`
	Value     float64   `json:"value"`
	QCFlag    int16     `json:"qc_flag"`
	SourceID  string    `json:"source"`
	JobID     string    `json:"-"`
}

// GridValue is one cell of a gridded monthly product.
// (TimeMonth, LatCenter, LonCenter, SourceVersion) is the uniqueness key.
type GridValue struct {
	TimeMonth     time.Time `json:"time_month"`
	LatCenter     float64   `json:"lat_center"`
	LonCenter     float64   `json:"lon_center"`
	SSTC          float64   `json:"sst_c"`
	SSTAnomC      *float64  `json:"sst_anom_c,omitempty"`
	SourceVersion string    `json:"source_version"`
	JobID         string    `json:"-"`
}

// JobStatus is the terminal (or running) state of an ingestion attempt.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobPartial JobStatus = "partial"
	JobFailed  JobStatus = "failed"
)

// JobRun records one ingestion attempt in the append-only ledger.
// The watermark is the last successfully processed observation timestamp
// and is the basis for the next run's incremental fetch.
type JobRun struct {
	JobID        string     `json:"job_id"`
	SourceID     string     `json:"source_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       JobStatus  `json:"status"`
	RowsUpserted int        `json:"rows_upserted"`
	RowsRejected int        `json:"rows_rejected"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	Watermark    *time.Time `json:"watermark,omitempty"`
}

// TileLayer names a rendered map layer.
type TileLayer string

const (
	LayerSST      TileLayer = "sst"
	LayerCurrents TileLayer = "currents"
)

// TileArtifact is one cached rendered tile. Content-addressed: identical
// input grids produce identical ContentHash, so unchanged months are never
// re-rendered.
type TileArtifact struct {
	Layer       TileLayer `json:"layer"`
	Z           int       `json:"z"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	TimeBucket  string    `json:"time_bucket"`
	ContentHash string    `json:"content_hash"`
	StoragePath string    `json:"storage_path"`
	ByteSize    int       `json:"byte_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// RawObservation is a parsed but not yet validated buoy record.
// A nil Value means the feed reported a missing-value sentinel.
type RawObservation struct {
	StationID string
	Time      time.Time
	Value     *float64
	Lat       *float64
	Lon       *float64
}

// BuoyReport is the result of parsing one buoy feed payload.
type BuoyReport struct {
	StationID      string
	Records        []RawObservation
	TotalLines     int
	MalformedLines int
}

// GridPoint is one flattened (lat, lon, value) cell from a grid slice.
// A nil Value means the cell held the file's fill sentinel (land, ice).
type GridPoint struct {
	Lat   float64
	Lon   float64
	Value *float64
}

// GridSlice is one month of one variable extracted from a grid file.
type GridSlice struct {
	TimeMonth time.Time
	Variable  string
	LatStep   float64
	LonStep   float64
	FillValue float64
	Points    []GridPoint
}

// ClimKey addresses one climatological baseline cell: calendar month
// (1..12) and grid center coordinates.
type ClimKey struct {
	Month int
	Lat   float64
	Lon   float64
}

// MonthBucket formats a time as the "YYYY-MM" bucket used to key monthly
// tile artifacts and grid products.
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// TruncateToMonth normalizes a timestamp to the first instant of its month
// in UTC, the canonical TimeMonth representation.
func TruncateToMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
