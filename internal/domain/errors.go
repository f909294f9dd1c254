package domain

import (
	"errors"
	"fmt"
)

// The pipeline's error taxonomy. Record-level errors (validation) are
// counted and logged, never fatal to a run. Run-level errors (fetch
// exhausted, structural parse failure, timeout) abort only that job run and
// leave the source's watermark unchanged.

// FetchError is a network or HTTP failure. Retryable within a run: the
// fetcher backs off, retries, and falls over to the mirror endpoint before
// giving up.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is structural corruption of a fetched payload. Not retryable
// within the same run; the next scheduled run will fetch fresh bytes.
type ParseError struct {
	SourceID string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.SourceID, e.Reason)
}

// Record-level rejection reasons. Rejected records are not stored.
var (
	ErrMissingValue = errors.New("missing value")
	ErrBadPosition  = errors.New("position outside valid lat/lon range")
)

// IsRejection reports whether err is a record-level rejection rather than a
// run-level failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingValue) || errors.Is(err, ErrBadPosition)
}
