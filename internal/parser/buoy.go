// Package parser converts raw source payloads into structured records.
// Parsers are pure functions over bytes so they can be tested against
// fixture files without any network or storage dependency.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// acceptThreshold is the minimum fraction of parseable data lines for a
// buoy feed to be accepted. Below it the whole fetch is rejected as corrupt
// rather than silently ingesting a truncated or garbled payload.
const acceptThreshold = 0.9

// missingSentinels are the NDBC missing-value markers. "MM" is current;
// the numeric forms appear in older archive feeds.
var missingSentinels = map[string]struct{}{
	"MM": {}, "99.0": {}, "99.00": {}, "999.0": {}, "9999.0": {}, "9999": {},
}

// ParseBuoyFeed parses an NDBC realtime2 whitespace-delimited table.
// The station ID is implicit from the feed URL and passed in by the caller.
//
// Malformed lines (wrong column count, unparseable timestamp) are skipped
// and counted, not fatal; a missing WTMP value yields a record with a nil
// Value so validation can reject it individually. If fewer than 90% of data
// lines parse, the whole payload is rejected with a *domain.ParseError.
func ParseBuoyFeed(data []byte, stationID string) (domain.BuoyReport, error) {
	report := domain.BuoyReport{StationID: stationID}

	lines := splitNonEmpty(string(data))
	cols, dataStart := headerColumns(lines)
	if cols == nil {
		return report, &domain.ParseError{SourceID: stationID, Reason: "no header line"}
	}

	idx := newColumnIndex(cols)
	if !idx.complete() {
		return report, &domain.ParseError{
			SourceID: stationID,
			Reason:   fmt.Sprintf("header missing required columns: %s", strings.Join(cols, " ")),
		}
	}

	for _, line := range lines[dataStart:] {
		if strings.HasPrefix(line, "#") {
			continue
		}
		report.TotalLines++

		rec, ok := parseDataLine(line, cols, idx, stationID)
		if !ok {
			report.MalformedLines++
			continue
		}
		report.Records = append(report.Records, rec)
	}

	if report.TotalLines == 0 {
		return report, &domain.ParseError{SourceID: stationID, Reason: "no data lines"}
	}
	parseable := float64(report.TotalLines-report.MalformedLines) / float64(report.TotalLines)
	if parseable < acceptThreshold {
		return report, &domain.ParseError{
			SourceID: stationID,
			Reason: fmt.Sprintf("only %d of %d lines parseable, feed rejected as corrupt",
				report.TotalLines-report.MalformedLines, report.TotalLines),
		}
	}

	return report, nil
}

// headerColumns finds the column header. NDBC puts the header on the first
// '#'-prefixed line (a second '#' line carries units); bare tables use the
// first line as the header.
func headerColumns(lines []string) ([]string, int) {
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			return strings.Fields(strings.TrimLeft(line, "# ")), i + 1
		}
		return strings.Fields(line), i + 1
	}
	return nil, 0
}

// columnIndex maps the positions of the columns the pipeline consumes.
// -1 means the column is absent from this feed.
type columnIndex struct {
	year4, year2, month, day, hour, minute int
	wtmp, lat, lon                         int
}

func newColumnIndex(cols []string) columnIndex {
	idx := columnIndex{
		year4: -1, year2: -1, month: -1, day: -1, hour: -1, minute: -1,
		wtmp: -1, lat: -1, lon: -1,
	}
	for i, c := range cols {
		switch c {
		case "YYYY":
			idx.year4 = i
		case "YY":
			idx.year2 = i
		case "MM":
			// First MM is the month column; NDBC never repeats it.
			if idx.month == -1 {
				idx.month = i
			}
		case "DD":
			idx.day = i
		case "hh":
			idx.hour = i
		case "mm":
			idx.minute = i
		case "WTMP":
			idx.wtmp = i
		case "LAT", "latitude":
			idx.lat = i
		case "LON", "longitude":
			idx.lon = i
		}
	}
	return idx
}

func (idx columnIndex) complete() bool {
	hasYear := idx.year4 != -1 || idx.year2 != -1
	return hasYear && idx.month != -1 && idx.day != -1 &&
		idx.hour != -1 && idx.minute != -1 && idx.wtmp != -1
}

func parseDataLine(line string, cols []string, idx columnIndex, stationID string) (domain.RawObservation, bool) {
	fields := strings.Fields(line)
	if len(fields) != len(cols) {
		return domain.RawObservation{}, false
	}

	ts, ok := parseTimestamp(fields, idx)
	if !ok {
		return domain.RawObservation{}, false
	}

	rec := domain.RawObservation{
		StationID: stationID,
		Time:      ts,
		Value:     parseValue(fields[idx.wtmp]),
	}
	if idx.lat != -1 {
		rec.Lat = parseValue(fields[idx.lat])
	}
	if idx.lon != -1 {
		rec.Lon = parseValue(fields[idx.lon])
	}
	return rec, true
}

func parseTimestamp(fields []string, idx columnIndex) (time.Time, bool) {
	var year int
	var err error
	if idx.year4 != -1 {
		year, err = strconv.Atoi(fields[idx.year4])
	} else {
		year, err = strconv.Atoi(fields[idx.year2])
		year += 2000
	}
	if err != nil {
		return time.Time{}, false
	}

	month, errM := strconv.Atoi(fields[idx.month])
	day, errD := strconv.Atoi(fields[idx.day])
	hour, errH := strconv.Atoi(fields[idx.hour])
	minute, errMin := strconv.Atoi(fields[idx.minute])
	if errM != nil || errD != nil || errH != nil || errMin != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || hour < 0 || minute < 0 {
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), true
}

// parseValue maps a token to a float, with NDBC missing sentinels and
// unparseable tokens yielding nil. Missing is never zero.
func parseValue(token string) *float64 {
	if _, missing := missingSentinels[token]; missing {
		return nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return &v
}

func splitNonEmpty(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
