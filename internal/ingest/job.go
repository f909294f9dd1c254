package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/observability"
	"github.com/tidewatch/tidewatch/internal/parser"
	"github.com/tidewatch/tidewatch/internal/qc"
)

// maxGridMonthsPerRun caps how many monthly files one scheduled run will
// fetch when catching up after downtime. Deeper history goes through the
// backfill command.
const maxGridMonthsPerRun = 12

// Ledger records ingestion attempts and serves watermarks.
type Ledger interface {
	CreateJobRun(ctx context.Context, run domain.JobRun) error
	FinalizeJobRun(ctx context.Context, run domain.JobRun) error
	LastWatermark(ctx context.Context, sourceID string) (*time.Time, error)
}

// ObservationWriter persists stations and point observations.
type ObservationWriter interface {
	UpsertStation(ctx context.Context, st domain.Station) error
	UpsertObservations(ctx context.Context, obs []domain.Observation) (int, error)
}

// GridWriter persists gridded monthly values and serves the climatological
// baseline used for anomaly computation.
type GridWriter interface {
	UpsertGridValues(ctx context.Context, values []domain.GridValue) (int, error)
	Climatology(ctx context.Context, version string) (map[domain.ClimKey]float64, error)
}

// RunPublisher receives finalized ledger entries, e.g. for a Kafka topic.
// Publishing is best-effort and must not fail the run.
type RunPublisher interface {
	PublishRun(ctx context.Context, run domain.JobRun)
}

// RunnerOptions carries the tunables a Runner needs beyond its collaborators.
type RunnerOptions struct {
	JobTimeout         time.Duration
	QCWindowSize       int
	QCSpreadMultiplier float64
	ClimatologyVersion string

	// Publisher is optional; nil disables run event publishing.
	Publisher RunPublisher
}

// Runner executes ingestion jobs: fetch, parse, validate, upsert, and
// finalize the ledger entry. One Runner serves all sources; per-source
// locking keeps runs for the same source from overlapping.
type Runner struct {
	ledger  Ledger
	obs     ObservationWriter
	grids   GridWriter
	fetcher Fetcher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	locks   *sourceLocks
	opts    RunnerOptions
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(ledger Ledger, obs ObservationWriter, grids GridWriter, fetcher Fetcher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts RunnerOptions) *Runner {
	return &Runner{
		ledger:  ledger,
		obs:     obs,
		grids:   grids,
		fetcher: fetcher,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		locks:   newSourceLocks(),
		opts:    opts,
	}
}

type runPlan struct {
	// ignoreWatermark re-ingests everything the feed offers instead of
	// filtering to records newer than the stored watermark.
	ignoreWatermark bool
	// months overrides the derived month list for grid sources (backfill).
	months []time.Time
}

// Run executes one incremental ingestion attempt for the source.
func (r *Runner) Run(ctx context.Context, src domain.Source) (domain.JobRun, error) {
	return r.run(ctx, src, runPlan{})
}

// RunFull re-ingests the source's current feed, ignoring the watermark.
// Upserts make this safe to repeat: rows converge to the same state.
func (r *Runner) RunFull(ctx context.Context, src domain.Source) (domain.JobRun, error) {
	return r.run(ctx, src, runPlan{ignoreWatermark: true})
}

// Backfill ingests an explicit inclusive month range for a grid source.
func (r *Runner) Backfill(ctx context.Context, src domain.Source, from, to time.Time) (domain.JobRun, error) {
	if src.Format != domain.FormatGridNetCDF {
		return domain.JobRun{}, fmt.Errorf("backfill: source %s is not a grid source", src.ID)
	}
	var months []time.Time
	for m := domain.TruncateToMonth(from); !m.After(domain.TruncateToMonth(to)); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	if len(months) == 0 {
		return domain.JobRun{}, fmt.Errorf("backfill: empty month range %s..%s", from.Format("2006-01"), to.Format("2006-01"))
	}
	return r.run(ctx, src, runPlan{ignoreWatermark: true, months: months})
}

func (r *Runner) run(ctx context.Context, src domain.Source, plan runPlan) (domain.JobRun, error) {
	if !r.locks.tryAcquire(src.ID) {
		return domain.JobRun{}, ErrSourceBusy
	}
	defer r.locks.release(src.ID)

	ctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()

	run := domain.JobRun{
		JobID:     ulid.Make().String(),
		SourceID:  src.ID,
		StartedAt: r.clock.Now().UTC(),
		Status:    domain.JobRunning,
	}
	if err := r.ledger.CreateJobRun(ctx, run); err != nil {
		return run, fmt.Errorf("create job run: %w", err)
	}

	r.metrics.RunsInFlight.Inc()
	defer r.metrics.RunsInFlight.Dec()
	r.logger.Info("ingestion run starting", "job_id", run.JobID, "source", src.ID)

	var wm *time.Time
	if !plan.ignoreWatermark {
		var err error
		if wm, err = r.ledger.LastWatermark(ctx, src.ID); err != nil {
			return r.finalize(ctx, run, domain.JobFailed, 0, 0, "read watermark: "+err.Error(), nil)
		}
	}

	var (
		upserted, rejected int
		newWM              *time.Time
		runErr             error
	)
	switch src.Format {
	case domain.FormatBuoyText:
		upserted, rejected, newWM, runErr = r.runBuoy(ctx, src, run.JobID, wm)
	case domain.FormatGridNetCDF:
		upserted, rejected, newWM, runErr = r.runGrid(ctx, src, run.JobID, wm, plan.months)
	default:
		runErr = fmt.Errorf("unknown source format %q", src.Format)
	}

	status := domain.JobSuccess
	detail := ""
	switch {
	case upserted == 0 && (runErr != nil || rejected > 0):
		// Zero rows landed. An error-free run whose every record was
		// rejected fails too: a feed gone entirely bad has to degrade
		// the source's freshness instead of keeping it green.
		status = domain.JobFailed
		detail = failureDetail(ctx, runErr, rejected)
		// The watermark does not move on failure; the next run retries
		// the same window.
		newWM = nil
	case runErr != nil || rejected > 0:
		status = domain.JobPartial
		if runErr != nil {
			detail = failureDetail(ctx, runErr, 0)
		}
	}

	if status != domain.JobFailed {
		newWM = maxWatermark(wm, newWM)
	}
	return r.finalize(ctx, run, status, upserted, rejected, detail, newWM)
}

// failureDetail renders the ledger error_detail for a degraded run. A run
// that died on the job deadline records the literal "timeout" whatever text
// the expiry was wrapped in along the way; a run with no error at all failed
// because validation rejected every record.
func failureDetail(ctx context.Context, runErr error, rejected int) string {
	if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	if runErr == nil {
		return fmt.Sprintf("all %d records rejected", rejected)
	}
	return runErr.Error()
}

func (r *Runner) finalize(ctx context.Context, run domain.JobRun, status domain.JobStatus, upserted, rejected int, detail string, wm *time.Time) (domain.JobRun, error) {
	// Finalization must survive the job deadline expiring mid-run, so it
	// gets its own short window detached from the job context.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := r.clock.Now().UTC()
	run.FinishedAt = &now
	run.Status = status
	run.RowsUpserted = upserted
	run.RowsRejected = rejected
	run.ErrorDetail = detail
	run.Watermark = wm

	if err := r.ledger.FinalizeJobRun(finCtx, run); err != nil {
		r.logger.Error("finalize job run failed", "job_id", run.JobID, "error", err)
		return run, err
	}

	r.metrics.RunsTotal.WithLabelValues(run.SourceID, string(status)).Inc()
	r.metrics.RowsUpserted.WithLabelValues(run.SourceID).Add(float64(upserted))
	r.metrics.RowsRejected.WithLabelValues(run.SourceID).Add(float64(rejected))
	r.metrics.RunDuration.WithLabelValues(run.SourceID).Observe(now.Sub(run.StartedAt).Seconds())

	if r.opts.Publisher != nil {
		r.opts.Publisher.PublishRun(finCtx, run)
	}

	r.logger.Info("ingestion run finished",
		"job_id", run.JobID,
		"source", run.SourceID,
		"status", status,
		"rows_upserted", upserted,
		"rows_rejected", rejected,
		"duration", now.Sub(run.StartedAt),
	)

	if status == domain.JobFailed {
		return run, errors.New(detail)
	}
	return run, nil
}

func (r *Runner) runBuoy(ctx context.Context, src domain.Source, jobID string, wm *time.Time) (int, int, *time.Time, error) {
	validator := qc.NewValidator(r.opts.QCWindowSize, r.opts.QCSpreadMultiplier)

	var (
		upserted, rejected int
		maxTime            *time.Time
		stationErrs        []string
	)
	for _, stationID := range src.Stations {
		if ctx.Err() != nil {
			return upserted, rejected, maxTime, ctx.Err()
		}

		primary := strings.ReplaceAll(src.Endpoint, "{station}", stationID)
		mirror := ""
		if src.Mirror != "" {
			mirror = strings.ReplaceAll(src.Mirror, "{station}", stationID)
		}

		payload, err := FetchWithFallback(ctx, r.fetcher, primary, mirror, r.logger)
		if err != nil {
			r.metrics.FetchFailures.WithLabelValues(src.ID).Inc()
			stationErrs = append(stationErrs, fmt.Sprintf("%s: %v", stationID, err))
			continue
		}

		report, err := parser.ParseBuoyFeed(payload, stationID)
		if err != nil {
			stationErrs = append(stationErrs, fmt.Sprintf("%s: %v", stationID, err))
			continue
		}
		if report.MalformedLines > 0 {
			r.logger.Warn("buoy feed had malformed lines",
				"station", stationID, "malformed", report.MalformedLines, "total", report.TotalLines)
		}

		r.upsertStationFromReport(ctx, src, report)

		batch := make([]domain.Observation, 0, len(report.Records))
		var batchMax *time.Time
		for _, rec := range report.Records {
			if wm != nil && !rec.Time.After(*wm) {
				continue
			}
			v, err := validator.Validate(rec)
			if err != nil {
				rejected++
				continue
			}
			batch = append(batch, domain.Observation{
				StationID: rec.StationID,
				Time:      rec.Time,
				Variable:  domain.VariableSST,
				Value:     v.Value,
				QCFlag:    v.QCFlag,
				SourceID:  src.ID,
				JobID:     jobID,
			})
			if batchMax == nil || rec.Time.After(*batchMax) {
				t := rec.Time
				batchMax = &t
			}
		}

		n, err := r.obs.UpsertObservations(ctx, batch)
		upserted += n
		if err != nil {
			stationErrs = append(stationErrs, fmt.Sprintf("%s: upsert: %v", stationID, err))
			continue
		}
		maxTime = maxWatermark(maxTime, batchMax)
	}

	var err error
	if len(stationErrs) > 0 {
		err = fmt.Errorf("%d of %d stations failed: %s",
			len(stationErrs), len(src.Stations), strings.Join(stationErrs, "; "))
	}
	return upserted, rejected, maxTime, err
}

// upsertStationFromReport registers the station on first sight and refreshes
// its position when the feed carries one. Failures are logged, not fatal;
// observations are worth keeping even if the station row write misses a beat.
func (r *Runner) upsertStationFromReport(ctx context.Context, src domain.Source, report domain.BuoyReport) {
	st := domain.Station{StationID: report.StationID, Provider: src.Name, Active: true}
	for _, rec := range report.Records {
		if rec.Lat != nil && rec.Lon != nil {
			st.Lat, st.Lon = *rec.Lat, *rec.Lon
		}
	}
	if err := r.obs.UpsertStation(ctx, st); err != nil {
		r.logger.Warn("station upsert failed", "station", report.StationID, "error", err)
	}
}

func (r *Runner) runGrid(ctx context.Context, src domain.Source, jobID string, wm *time.Time, months []time.Time) (int, int, *time.Time, error) {
	if len(months) == 0 {
		months = monthsToFetch(wm, r.clock.Now())
	}

	baseline, err := r.grids.Climatology(ctx, r.opts.ClimatologyVersion)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("load climatology: %w", err)
	}

	var (
		upserted  int
		lastMonth *time.Time
		monthErrs []string
	)
	for _, month := range months {
		if ctx.Err() != nil {
			return upserted, 0, lastMonth, ctx.Err()
		}

		payload, err := FetchWithFallback(ctx, r.fetcher, monthURL(src.Endpoint, month), mirrorMonthURL(src.Mirror, month), r.logger)
		if err != nil {
			// The upstream publishes each month with a lag; a 404 for a
			// recent month is expected, not an error.
			var fe *domain.FetchError
			if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
				r.logger.Info("grid month not yet published", "source", src.ID, "month", domain.MonthBucket(month))
				continue
			}
			r.metrics.FetchFailures.WithLabelValues(src.ID).Inc()
			monthErrs = append(monthErrs, fmt.Sprintf("%s: %v", domain.MonthBucket(month), err))
			continue
		}

		slice, err := r.parseGridPayload(payload, month)
		if err != nil {
			monthErrs = append(monthErrs, fmt.Sprintf("%s: %v", domain.MonthBucket(month), err))
			continue
		}

		values := buildGridValues(slice, baseline, src.Version, jobID)
		n, err := r.grids.UpsertGridValues(ctx, values)
		upserted += n
		if err != nil {
			monthErrs = append(monthErrs, fmt.Sprintf("%s: upsert: %v", domain.MonthBucket(month), err))
			continue
		}

		m := slice.TimeMonth
		lastMonth = maxWatermark(lastMonth, &m)
	}

	if len(monthErrs) > 0 {
		err = fmt.Errorf("%d of %d months failed: %s", len(monthErrs), len(months), strings.Join(monthErrs, "; "))
	}
	return upserted, 0, lastMonth, err
}

// buildGridValues converts one parsed slice into store rows, skipping fill
// cells and attaching the anomaly where the baseline knows the cell.
func buildGridValues(slice domain.GridSlice, baseline map[domain.ClimKey]float64, version, jobID string) []domain.GridValue {
	values := make([]domain.GridValue, 0, len(slice.Points))
	for _, p := range slice.Points {
		if p.Value == nil {
			// Fill cells (land, ice) are absent rows, never zeros.
			continue
		}
		gv := domain.GridValue{
			TimeMonth:     slice.TimeMonth,
			LatCenter:     p.Lat,
			LonCenter:     p.Lon,
			SSTC:          *p.Value,
			SourceVersion: version,
			JobID:         jobID,
		}
		if base, ok := baseline[domain.ClimKey{Month: int(slice.TimeMonth.Month()), Lat: p.Lat, Lon: p.Lon}]; ok {
			anom := *p.Value - base
			gv.SSTAnomC = &anom
		}
		values = append(values, gv)
	}
	return values
}

// parseGridPayload spools the downloaded file to disk for the NetCDF reader.
func (r *Runner) parseGridPayload(payload []byte, month time.Time) (domain.GridSlice, error) {
	tmp, err := os.CreateTemp("", "tidewatch-grid-*.nc")
	if err != nil {
		return domain.GridSlice{}, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close() //nolint:errcheck
		return domain.GridSlice{}, err
	}
	if err := tmp.Close(); err != nil {
		return domain.GridSlice{}, err
	}
	return parser.ParseGridFile(tmp.Name(), parser.GridOptions{
		Variable:  domain.VariableSST,
		TimeMonth: month,
	})
}

// monthsToFetch lists months to request: everything after the watermark
// month up to the current month, capped at maxGridMonthsPerRun. With a
// current watermark the watermark month itself is re-fetched so in-month
// revisions of the preliminary release get picked up.
func monthsToFetch(wm *time.Time, now time.Time) []time.Time {
	current := domain.TruncateToMonth(now)
	if wm == nil {
		return []time.Time{current}
	}

	var months []time.Time
	for m := domain.TruncateToMonth(*wm).AddDate(0, 1, 0); !m.After(current); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
		if len(months) == maxGridMonthsPerRun {
			break
		}
	}
	if len(months) == 0 {
		months = []time.Time{domain.TruncateToMonth(*wm)}
	}
	return months
}

func monthURL(template string, month time.Time) string {
	return strings.ReplaceAll(template, "{yyyymm}", month.Format("200601"))
}

func mirrorMonthURL(template string, month time.Time) string {
	if template == "" {
		return ""
	}
	return monthURL(template, month)
}

func maxWatermark(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || !b.After(*a) {
		return a
	}
	return b
}
