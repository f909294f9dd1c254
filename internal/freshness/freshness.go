// Package freshness grades how stale each source's data is relative to its
// expected cadence. The grading is a pure function of the ledger state and
// the clock, so the API can evaluate it on every status request.
package freshness

import (
	"time"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// Level is a traffic-light freshness grade.
type Level string

const (
	Green  Level = "green"
	Yellow Level = "yellow"
	Red    Level = "red"
)

// Age thresholds as multiples of the source cadence. Within one cadence the
// source is current; up to three it is late but tolerable; beyond that it
// is stale enough to page on.
const (
	greenMultiplier  = 1
	yellowMultiplier = 3
)

// SourceStatus is one source's freshness evaluation.
type SourceStatus struct {
	SourceID    string         `json:"source_id"`
	Level       Level          `json:"level"`
	Cadence     time.Duration  `json:"-"`
	Age         time.Duration  `json:"-"`
	LastSuccess *time.Time     `json:"last_success,omitempty"`
	LastRun     *domain.JobRun `json:"last_run,omitempty"`
}

// Grade evaluates one source. A source with no successful run ever is red
// regardless of cadence.
func Grade(src domain.Source, lastSuccess *time.Time, lastRun *domain.JobRun, now time.Time) SourceStatus {
	st := SourceStatus{
		SourceID:    src.ID,
		Cadence:     src.Cadence,
		LastSuccess: lastSuccess,
		LastRun:     lastRun,
		Level:       Red,
	}
	if lastSuccess == nil {
		return st
	}

	st.Age = now.Sub(*lastSuccess)
	switch {
	case st.Age <= time.Duration(greenMultiplier)*src.Cadence:
		st.Level = Green
	case st.Age <= time.Duration(yellowMultiplier)*src.Cadence:
		st.Level = Yellow
	}
	return st
}

// Snapshot grades every registered source against the ledger's latest state.
// The result is ordered like the source list.
func Snapshot(sources []domain.Source, lastSuccess map[string]time.Time, latestRuns map[string]domain.JobRun, now time.Time) []SourceStatus {
	out := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		var succ *time.Time
		if t, ok := lastSuccess[src.ID]; ok {
			succ = &t
		}
		var run *domain.JobRun
		if r, ok := latestRuns[src.ID]; ok {
			run = &r
		}
		out = append(out, Grade(src, succ, run, now))
	}
	return out
}
