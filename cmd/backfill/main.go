// Command backfill runs one-off jobs outside the scheduler: a full re-ingest
// of a source's current feed, a historical month range for a grid source, or
// loading a climatology extract that anomaly computation baselines against.
// Safe to repeat; upserts converge to the same state.
//
// Usage:
//
//	go run ./cmd/backfill -source ersst-v5 -from 2023-01 -to 2023-12
//	go run ./cmd/backfill -source ndbc-buoys -full
//	go run ./cmd/backfill -seed-climatology extracts/climatology-1991-2020.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/ingest"
	"github.com/tidewatch/tidewatch/internal/observability"
	"github.com/tidewatch/tidewatch/internal/source"
	"github.com/tidewatch/tidewatch/internal/store"
)

func main() {
	sourceID := flag.String("source", "", "source id from the registry")
	fromArg := flag.String("from", "", "first month to backfill (YYYY-MM, grid sources only)")
	toArg := flag.String("to", "", "last month to backfill (YYYY-MM, grid sources only)")
	full := flag.Bool("full", false, "re-ingest the current feed ignoring the watermark")
	seedFile := flag.String("seed-climatology", "", "CSV extract (month,lat,lon,baseline_c) to load as the anomaly baseline")
	flag.Parse()

	if *seedFile != "" {
		if *sourceID != "" || *full || *fromArg != "" || *toArg != "" {
			fmt.Fprintln(os.Stderr, "-seed-climatology cannot be combined with ingestion flags")
			os.Exit(2)
		}
		os.Exit(runSeed(*seedFile))
	}

	if *sourceID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *full == (*fromArg != "" || *toArg != "") {
		fmt.Fprintln(os.Stderr, "specify either -full or a -from/-to month range")
		os.Exit(2)
	}

	os.Exit(run(*sourceID, *fromArg, *toArg, *full))
}

// runSeed loads a climatology extract into the baseline table under the
// configured version.
func runSeed(path string) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open climatology extract", "file", path, "error", err)
		return 1
	}
	defer f.Close()

	rows, err := parseClimatologyCSV(f)
	if err != nil {
		logger.Error("failed to parse climatology extract", "file", path, "error", err)
		return 2
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		return 1
	}

	if err := st.SeedClimatology(ctx, cfg.ClimatologyVersion, rows); err != nil {
		logger.Error("failed to seed climatology", "error", err)
		return 1
	}

	logger.Info("climatology seeded",
		"file", path, "rows", len(rows), "version", cfg.ClimatologyVersion)
	return 0
}

// parseClimatologyCSV reads baseline cells from a month,lat,lon,baseline_c
// extract. A header row is skipped when present.
func parseClimatologyCSV(r io.Reader) ([]store.ClimatologyRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	var rows []store.ClimatologyRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "month") {
			continue
		}

		month, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("line %d: month %q must be 1..12", line, rec[0])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("line %d: invalid lat %q", line, rec[1])
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("line %d: invalid lon %q", line, rec[2])
		}
		baseline, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid baseline_c %q", line, rec[3])
		}

		rows = append(rows, store.ClimatologyRow{Month: month, Lat: lat, Lon: lon, Baseline: baseline})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("extract contains no baseline rows")
	}
	return rows, nil
}

func run(sourceID, fromArg, toArg string, full bool) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, "text")
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := source.LoadFile(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load source registry", "file", cfg.SourcesFile, "error", err)
		return 1
	}
	src, ok := registry.Get(sourceID)
	if !ok {
		logger.Error("unknown source", "source", sourceID)
		return 1
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		return 1
	}

	fetcher := ingest.NewHTTPFetcher(cfg.FetchTimeout, logger, metrics)
	runner := ingest.NewRunner(st, st, st, fetcher, clock, logger, metrics, ingest.RunnerOptions{
		JobTimeout:         cfg.JobTimeout,
		QCWindowSize:       cfg.QCWindowSize,
		QCSpreadMultiplier: cfg.QCSpreadMultiplier,
		ClimatologyVersion: cfg.ClimatologyVersion,
	})

	var jobRun domain.JobRun
	if full {
		jobRun, err = runner.RunFull(ctx, src)
	} else {
		var from, to time.Time
		from, to, err = parseMonthRange(fromArg, toArg)
		if err != nil {
			logger.Error("invalid month range", "error", err)
			return 2
		}
		jobRun, err = runner.Backfill(ctx, src, from, to)
	}
	if err != nil {
		logger.Error("backfill failed", "source", sourceID, "error", err)
		return 1
	}

	logger.Info("backfill finished",
		"job_id", jobRun.JobID,
		"status", jobRun.Status,
		"rows_upserted", jobRun.RowsUpserted,
		"rows_rejected", jobRun.RowsRejected)
	if jobRun.Watermark != nil {
		logger.Info("watermark advanced", "watermark", jobRun.Watermark.Format(time.RFC3339))
	}

	if jobRun.Status == domain.JobFailed {
		return 1
	}
	return 0
}

func parseMonthRange(fromArg, toArg string) (time.Time, time.Time, error) {
	from, err := time.Parse("2006-01", fromArg)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-from %q: %w", fromArg, err)
	}
	to, err := time.Parse("2006-01", toArg)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-to %q: %w", toArg, err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to %s is before -from %s", toArg, fromArg)
	}
	return from, to, nil
}
