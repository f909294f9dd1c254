// Package domain models the ocean observation data that flows through the
// ingestion pipeline: buoy reports, gridded monthly SST products, job runs,
// and rendered tile artifacts.
//
// # Data sources
//
// Buoy observations come from NDBC realtime2 text feeds
// (https://www.ndbc.noaa.gov/data/realtime2/<station>.txt). These are
// whitespace-delimited tables with one or two '#'-prefixed header lines.
// The station ID is implicit in the URL, timestamps are split across
// YYYY (or YY) MM DD hh mm columns, and water temperature is the WTMP
// column in °C.
//
// Gridded monthly sea surface temperature comes from NOAA ERSST v5 NetCDF
// files (ersst.v5.YYYYMM.nc), a (time, lat, lon) array at 2° resolution.
// Grid resolution and coordinate ordering are always read from the file's
// embedded metadata; an upstream resolution change must never silently
// mis-register cells.
//
// # Missing values
//
// NDBC uses "MM" as its missing-value sentinel, with the numeric variants
// 99.0, 999.0 and 9999.0 appearing in older feeds. NetCDF files declare a
// _FillValue attribute per variable. All sentinels map to "no value", never
// to zero.
//
// # QC flags
//
// Every stored observation carries a quality-control flag:
//
//	0     good
//	1..3  degraded (2 = suspect, flagged by the trailing-window check)
//	4     bad (out of physical range; retained for audit, excluded from
//	      default queries and tile generation)
//
// # Anomalies
//
// Grid anomalies are computed once at ingestion time against a fixed
// climatological baseline and stored alongside the absolute value. This
// keeps anomaly values reproducible even if the baseline dataset is later
// revised; revisions get a new source_version.
//
// # Provenance
//
// Every observation and grid value row records the job run that wrote it,
// and every job run belongs to exactly one source. The job_runs table is an
// append-only ledger: runs are created at start, finalized exactly once at
// completion, and never mutated afterwards.
package domain
