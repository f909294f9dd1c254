// Package qc applies normalization and quality control to parsed records
// before they reach the observation store. Rules run in a fixed order and
// the first violated rule determines the flag; records are only discarded
// outright when they cannot describe a real measurement (missing value,
// impossible position).
package qc

import (
	"math"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// Physical plausibility bounds for sea surface temperature in °C.
// Seawater freezes around -2°C and no open-ocean surface reading exceeds
// the upper bound; values outside are kept for audit but flagged bad.
const (
	sstMinC = -4.0
	sstMaxC = 40.0
)

// minWindowSamples is how many readings a station needs before the
// trailing-window outlier rule activates. With fewer samples the window
// spread is meaningless.
const minWindowSamples = 5

// Validated is a record that passed QC, with its assigned flag.
type Validated struct {
	Record domain.RawObservation
	Value  float64
	QCFlag int16
}

// Validator applies the QC rule chain. It is stateless apart from the
// bounded trailing window it keeps per station, and is not safe for
// concurrent use; each job run owns its own Validator.
type Validator struct {
	windowSize int
	multiplier float64
	windows    map[string]*movingaverage.MovingAverage
}

// NewValidator creates a Validator. windowSize bounds the per-station
// rolling buffer; multiplier scales the window spread for the suspect-value
// rule. Both are configuration, not constants: the exact production
// threshold is still being tuned against historical buoy data.
func NewValidator(windowSize int, multiplier float64) *Validator {
	return &Validator{
		windowSize: windowSize,
		multiplier: multiplier,
		windows:    make(map[string]*movingaverage.MovingAverage),
	}
}

// Validate runs the rule chain on one record:
//
//  1. missing value            -> domain.ErrMissingValue (rejected)
//  2. value outside -4..40 °C  -> QCBad (stored for audit)
//  3. position out of range    -> domain.ErrBadPosition (rejected)
//  4. trailing-window outlier  -> QCSuspect (stored, flagged)
//  5. otherwise                -> QCGood
//
// Good and suspect values feed the station's trailing window; bad values do
// not, so one spike cannot widen the window enough to mask the next.
func (v *Validator) Validate(rec domain.RawObservation) (Validated, error) {
	if rec.Value == nil {
		return Validated{}, domain.ErrMissingValue
	}
	value := *rec.Value

	if value < sstMinC || value > sstMaxC {
		return Validated{Record: rec, Value: value, QCFlag: domain.QCBad}, nil
	}

	if rec.Lat != nil && (*rec.Lat < -90 || *rec.Lat > 90) {
		return Validated{}, domain.ErrBadPosition
	}
	if rec.Lon != nil && (*rec.Lon < -180 || *rec.Lon > 180) {
		return Validated{}, domain.ErrBadPosition
	}

	flag := domain.QCGood
	if v.isOutlier(rec.StationID, value) {
		flag = domain.QCSuspect
	}
	v.window(rec.StationID).Add(value)

	return Validated{Record: rec, Value: value, QCFlag: flag}, nil
}

// isOutlier reports whether value deviates from the station's trailing
// window by more than multiplier x the window's spread (max-min range).
func (v *Validator) isOutlier(stationID string, value float64) bool {
	ma, ok := v.windows[stationID]
	if !ok || ma.Count() < minWindowSamples {
		return false
	}

	lo, err := ma.Min()
	if err != nil {
		return false
	}
	hi, err := ma.Max()
	if err != nil {
		return false
	}

	spread := hi - lo
	if spread < 0.1 {
		// A dead-flat window would flag any real fluctuation; floor the
		// spread at a tenth of a degree.
		spread = 0.1
	}

	return math.Abs(value-ma.Avg()) > v.multiplier*spread
}

func (v *Validator) window(stationID string) *movingaverage.MovingAverage {
	ma, ok := v.windows[stationID]
	if !ok {
		ma = movingaverage.New(v.windowSize)
		v.windows[stationID] = ma
	}
	return ma
}
