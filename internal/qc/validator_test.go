package qc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/qc"
)

func rec(station string, value *float64) domain.RawObservation {
	return domain.RawObservation{
		StationID: station,
		Time:      time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Value:     value,
	}
}

func f(v float64) *float64 { return &v }

func TestValidate_MissingValueRejected(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	_, err := v.Validate(rec("S1", nil))
	require.ErrorIs(t, err, domain.ErrMissingValue)
}

func TestValidate_GoodValue(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	out, err := v.Validate(rec("S1", f(23.45)))
	require.NoError(t, err)
	assert.Equal(t, domain.QCGood, out.QCFlag)
	assert.InDelta(t, 23.45, out.Value, 1e-9)
}

func TestValidate_OutOfPhysicalRangeFlaggedBadButKept(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	tests := []float64{-5.0, 45.0, 99.9}
	for _, val := range tests {
		out, err := v.Validate(rec("S1", f(val)))
		require.NoError(t, err, "value %v must be kept for audit", val)
		assert.Equal(t, domain.QCBad, out.QCFlag, "value %v", val)
	}
}

func TestValidate_BadPositionRejected(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	r := rec("S1", f(20.0))
	r.Lat = f(91.0)
	_, err := v.Validate(r)
	require.ErrorIs(t, err, domain.ErrBadPosition)

	r = rec("S1", f(20.0))
	r.Lon = f(-181.0)
	_, err = v.Validate(r)
	require.ErrorIs(t, err, domain.ErrBadPosition)
}

func TestValidate_BoundaryPositionsAccepted(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	r := rec("S1", f(20.0))
	r.Lat = f(90.0)
	r.Lon = f(-180.0)
	out, err := v.Validate(r)
	require.NoError(t, err)
	assert.Equal(t, domain.QCGood, out.QCFlag)
}

func TestValidate_TrailingWindowOutlierFlaggedSuspect(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	// Build a stable window around 23°C.
	for _, val := range []float64{23.0, 23.1, 22.9, 23.0, 23.2, 23.1, 23.0} {
		out, err := v.Validate(rec("S1", f(val)))
		require.NoError(t, err)
		assert.Equal(t, domain.QCGood, out.QCFlag)
	}

	// Spread is ~0.3; a 10° jump is far beyond 3x spread.
	out, err := v.Validate(rec("S1", f(33.0)))
	require.NoError(t, err)
	assert.Equal(t, domain.QCSuspect, out.QCFlag)
}

func TestValidate_WindowIsPerStation(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	for _, val := range []float64{23.0, 23.1, 22.9, 23.0, 23.2, 23.1} {
		_, err := v.Validate(rec("S1", f(val)))
		require.NoError(t, err)
	}

	// A fresh station has no window yet, so its first value is good even
	// though it would be an outlier against S1's window.
	out, err := v.Validate(rec("S2", f(33.0)))
	require.NoError(t, err)
	assert.Equal(t, domain.QCGood, out.QCFlag)
}

func TestValidate_NoOutlierCheckBeforeMinSamples(t *testing.T) {
	v := qc.NewValidator(24, 3.0)

	for _, val := range []float64{23.0, 23.1} {
		_, err := v.Validate(rec("S1", f(val)))
		require.NoError(t, err)
	}

	out, err := v.Validate(rec("S1", f(33.0)))
	require.NoError(t, err)
	assert.Equal(t, domain.QCGood, out.QCFlag)
}
