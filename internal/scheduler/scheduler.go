// Package scheduler drives periodic ingestion. Each tick it starts runs for
// sources whose cadence has elapsed, bounded by a worker pool, and triggers
// tile regeneration after successful grid runs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/ingest"
)

// JobRunner starts one ingestion run for a source.
type JobRunner interface {
	Run(ctx context.Context, src domain.Source) (domain.JobRun, error)
}

// TileGenerator regenerates tile pyramids after new grid data lands and
// evicts pyramids whose time bucket has aged out.
type TileGenerator interface {
	GenerateSST(ctx context.Context, month time.Time, version string) error
	GenerateCurrents(ctx context.Context, bucket string) error
	EvictBefore(ctx context.Context, bucket string) error
}

// Scheduler dispatches due sources on a fixed tick.
type Scheduler struct {
	sources   []domain.Source
	runner    JobRunner
	tiles     TileGenerator
	clock     clockwork.Clock
	logger    *slog.Logger
	interval  time.Duration
	workers   int64
	retention int

	mu      sync.Mutex
	lastRun map[string]time.Time

	ready atomic.Bool
}

// New wires a Scheduler. interval is the tick period; workers bounds how
// many runs execute concurrently across all sources; retentionMonths is the
// maximum tile bucket age kept after a regeneration pass (0 keeps forever).
func New(sources []domain.Source, runner JobRunner, tiles TileGenerator, clock clockwork.Clock, logger *slog.Logger, interval time.Duration, workers, retentionMonths int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		sources:   sources,
		runner:    runner,
		tiles:     tiles,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		workers:   int64(workers),
		retention: retentionMonths,
		lastRun:   make(map[string]time.Time),
	}
}

// CheckReadiness returns nil once the scheduler has completed its first
// dispatch pass.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("scheduler has not completed a dispatch pass yet")
	}
	return nil
}

// Run ticks until the context is cancelled, then waits for in-flight runs
// to finish. Every source is dispatched once immediately at startup.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"sources", len(s.sources), "interval", s.interval, "workers", s.workers)

	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.dispatchDue(ctx, sem, &wg)
	s.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight runs")
			wg.Wait()
			return nil
		case <-ticker.Chan():
			s.dispatchDue(ctx, sem, &wg)
		}
	}
}

// dispatchDue starts a run for every due source that can get a worker slot.
// A saturated pool defers the source to a later tick rather than queueing.
func (s *Scheduler) dispatchDue(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup) {
	now := s.clock.Now()
	for _, src := range s.sources {
		if !s.due(src, now) {
			continue
		}
		if !sem.TryAcquire(1) {
			s.logger.Warn("worker pool saturated, deferring source", "source", src.ID)
			continue
		}
		s.markStarted(src.ID, now)

		wg.Add(1)
		go func(src domain.Source) {
			defer wg.Done()
			defer sem.Release(1)
			s.runSource(ctx, src)
		}(src)
	}
}

func (s *Scheduler) runSource(ctx context.Context, src domain.Source) {
	run, err := s.runner.Run(ctx, src)
	if errors.Is(err, ingest.ErrSourceBusy) {
		s.logger.Debug("source still running, skipped", "source", src.ID)
		return
	}
	if err != nil {
		s.logger.Error("ingestion run failed", "source", src.ID, "error", err)
		return
	}

	if src.Format == domain.FormatGridNetCDF && run.Watermark != nil {
		s.regenerateTiles(ctx, *run.Watermark, src.Version)
	}
}

// regenerateTiles rebuilds the pyramids for the month the grid run landed
// on. Content hashing inside the generator makes an unchanged month cheap.
func (s *Scheduler) regenerateTiles(ctx context.Context, month time.Time, version string) {
	if s.tiles == nil {
		return
	}
	if err := s.tiles.GenerateSST(ctx, month, version); err != nil {
		s.logger.Error("sst tile generation failed", "month", domain.MonthBucket(month), "error", err)
	}
	if err := s.tiles.GenerateCurrents(ctx, domain.MonthBucket(month)); err != nil {
		s.logger.Error("currents tile generation failed", "month", domain.MonthBucket(month), "error", err)
	}
	if s.retention > 0 {
		cutoff := domain.MonthBucket(s.clock.Now().AddDate(0, -s.retention, 0))
		if err := s.tiles.EvictBefore(ctx, cutoff); err != nil {
			s.logger.Error("tile eviction failed", "cutoff", cutoff, "error", err)
		}
	}
}

func (s *Scheduler) due(src domain.Source, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[src.ID]
	return !ok || now.Sub(last) >= src.Cadence
}

func (s *Scheduler) markStarted(sourceID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[sourceID] = now
}
