package ingest

import (
	"errors"
	"sync"
)

// ErrSourceBusy is returned when a run is requested for a source that
// already has one executing. Overlapping runs are refused, never queued;
// the scheduler simply tries again next tick.
var ErrSourceBusy = errors.New("source ingestion already in progress")

type sourceLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{held: make(map[string]struct{})}
}

func (l *sourceLocks) tryAcquire(sourceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sourceID]; ok {
		return false
	}
	l.held[sourceID] = struct{}{}
	return true
}

func (l *sourceLocks) release(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sourceID)
}
