package parser_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/parser"
)

const realtime2Feed = `#YYYY MM DD hh mm WDIR WSPD GST  WVHT   DPD   APD MWD   PRES  ATMP  WTMP  DEWP  VIS PTDY  TIDE
#yr  mo dy hr mn degT m/s  m/s     m   sec   sec degT   hPa  degC  degC  degC  nmi hPa    ft
2024 01 15 12 00 230  7.0  9.0   1.4     9   6.4 221 1022.1  22.1  23.45  18.2   MM   MM    MM
2024 01 15 11 00 225  6.5  8.1   1.3     9   6.2 219 1022.4  22.0  23.40  18.1   MM   MM    MM
2024 01 15 10 00 220  6.1  7.7   1.2     8   6.0 217 1022.8  21.9    MM  18.0   MM   MM    MM
`

func TestParseBuoyFeed_HappyPath(t *testing.T) {
	report, err := parser.ParseBuoyFeed([]byte(realtime2Feed), "41001")
	require.NoError(t, err)

	assert.Equal(t, "41001", report.StationID)
	assert.Equal(t, 3, report.TotalLines)
	assert.Equal(t, 0, report.MalformedLines)
	require.Len(t, report.Records, 3)

	first := report.Records[0]
	assert.Equal(t, "41001", first.StationID)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), first.Time)
	require.NotNil(t, first.Value)
	assert.InDelta(t, 23.45, *first.Value, 1e-9)
}

func TestParseBuoyFeed_MissingSentinelIsNilNotZero(t *testing.T) {
	report, err := parser.ParseBuoyFeed([]byte(realtime2Feed), "41001")
	require.NoError(t, err)

	// Third line has WTMP=MM: the record survives parsing with a nil value
	// so the QC layer can reject it individually.
	assert.Nil(t, report.Records[2].Value)
}

func TestParseBuoyFeed_TwoDigitYear(t *testing.T) {
	feed := "#YY MM DD hh mm WTMP\n24 01 15 12 00 23.45\n"
	report, err := parser.ParseBuoyFeed([]byte(feed), "46042")
	require.NoError(t, err)

	require.Len(t, report.Records, 1)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), report.Records[0].Time)
}

func TestParseBuoyFeed_PositionColumns(t *testing.T) {
	feed := "#YYYY MM DD hh mm WTMP LAT LON\n2024 01 15 12 00 23.45 35.01 -72.40\n"
	report, err := parser.ParseBuoyFeed([]byte(feed), "41001")
	require.NoError(t, err)

	require.Len(t, report.Records, 1)
	rec := report.Records[0]
	require.NotNil(t, rec.Lat)
	require.NotNil(t, rec.Lon)
	assert.InDelta(t, 35.01, *rec.Lat, 1e-9)
	assert.InDelta(t, -72.40, *rec.Lon, 1e-9)
}

func TestParseBuoyFeed_MalformedLinesSkippedAndCounted(t *testing.T) {
	feed := strings.Join([]string{
		"#YYYY MM DD hh mm WTMP",
		"2024 01 15 12 00 23.45",
		"2024 01 15 11 00",        // short line
		"2024 13 15 10 00 23.10",  // month 13
		"2024 01 15 09 00 23.20",
		"2024 01 15 08 00 23.15",
		"2024 01 15 07 00 23.10",
		"2024 01 15 06 00 23.05",
		"2024 01 15 05 00 23.00",
		"2024 01 15 04 00 22.95",
		"2024 01 15 03 00 22.90",
		"2024 01 15 02 00 22.85",
		"2024 01 15 01 00 22.80",
		"2024 01 15 00 00 22.75",
		"2024 01 14 23 00 22.70",
		"2024 01 14 22 00 22.65",
		"2024 01 14 21 00 22.60",
		"2024 01 14 20 00 22.55",
		"2024 01 14 19 00 22.50",
		"2024 01 14 18 00 22.45",
		"2024 01 14 17 00 22.40",
	}, "\n")

	report, err := parser.ParseBuoyFeed([]byte(feed), "41001")
	require.NoError(t, err)

	assert.Equal(t, 20, report.TotalLines)
	assert.Equal(t, 2, report.MalformedLines)
	assert.Len(t, report.Records, 18)
}

func TestParseBuoyFeed_CorruptFeedRejected(t *testing.T) {
	feed := strings.Join([]string{
		"#YYYY MM DD hh mm WTMP",
		"2024 01 15 12 00 23.45",
		"garbage",
		"more garbage here but wrong",
		"even more garbage",
	}, "\n")

	_, err := parser.ParseBuoyFeed([]byte(feed), "41001")
	require.Error(t, err)

	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "corrupt")
}

func TestParseBuoyFeed_NoHeader(t *testing.T) {
	_, err := parser.ParseBuoyFeed([]byte(""), "41001")
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseBuoyFeed_HeaderMissingColumns(t *testing.T) {
	_, err := parser.ParseBuoyFeed([]byte("#YYYY MM DD WSPD\n2024 01 15 3.0\n"), "41001")
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "header")
}
