package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/ingest"
	"github.com/tidewatch/tidewatch/internal/observability"
)

var fixedNow = time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)

// --- fakes ---

type fakeLedger struct {
	mu        sync.Mutex
	created   []domain.JobRun
	finalized []domain.JobRun
	watermark *time.Time
}

func (l *fakeLedger) CreateJobRun(_ context.Context, run domain.JobRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, run)
	return nil
}

func (l *fakeLedger) FinalizeJobRun(_ context.Context, run domain.JobRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized = append(l.finalized, run)
	return nil
}

func (l *fakeLedger) LastWatermark(_ context.Context, _ string) (*time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark, nil
}

func (l *fakeLedger) lastFinalized(t *testing.T) domain.JobRun {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.finalized)
	return l.finalized[len(l.finalized)-1]
}

// fakeStore keys rows the way the database does, so repeated upserts of the
// same report converge instead of growing.
type fakeStore struct {
	mu       sync.Mutex
	stations map[string]domain.Station
	obs      map[string]domain.Observation
	grids    map[string]domain.GridValue
	baseline map[domain.ClimKey]float64
	obsErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stations: make(map[string]domain.Station),
		obs:      make(map[string]domain.Observation),
		grids:    make(map[string]domain.GridValue),
		baseline: make(map[domain.ClimKey]float64),
	}
}

func (s *fakeStore) UpsertStation(_ context.Context, st domain.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.StationID] = st
	return nil
}

func (s *fakeStore) UpsertObservations(_ context.Context, obs []domain.Observation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obsErr != nil {
		return 0, s.obsErr
	}
	for _, o := range obs {
		key := fmt.Sprintf("%s|%s|%s", o.StationID, o.Time.Format(time.RFC3339), o.Variable)
		s.obs[key] = o
	}
	return len(obs), nil
}

func (s *fakeStore) UpsertGridValues(_ context.Context, values []domain.GridValue) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		key := fmt.Sprintf("%s|%f|%f|%s", v.TimeMonth.Format("2006-01"), v.LatCenter, v.LonCenter, v.SourceVersion)
		s.grids[key] = v
	}
	return len(values), nil
}

func (s *fakeStore) Climatology(_ context.Context, _ string) (map[domain.ClimKey]float64, error) {
	return s.baseline, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if p, ok := f.payloads[url]; ok {
		return p, nil
	}
	return nil, &domain.FetchError{URL: url, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
}

type fakePublisher struct {
	mu   sync.Mutex
	runs []domain.JobRun
}

func (p *fakePublisher) PublishRun(_ context.Context, run domain.JobRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
}

// --- helpers ---

const goodFeed = `#YYYY MM DD hh mm WTMP
#yr   mo dy hr mn degC
2024 01 15 12 00 23.4
2024 01 15 11 00 23.1
2024 01 15 10 00 22.9
`

const feedWithMissing = `#YYYY MM DD hh mm WTMP
#yr   mo dy hr mn degC
2024 01 15 12 00 23.4
2024 01 15 11 00 MM
2024 01 15 10 00 22.9
`

func buoySource(stations ...string) domain.Source {
	if len(stations) == 0 {
		stations = []string{"41001"}
	}
	return domain.Source{
		ID:       "ndbc-buoys",
		Name:     "NDBC",
		Format:   domain.FormatBuoyText,
		Cadence:  time.Hour,
		Endpoint: "https://upstream.test/realtime2/{station}.txt",
		Stations: stations,
	}
}

func stationURL(id string) string {
	return "https://upstream.test/realtime2/" + id + ".txt"
}

func newTestRunner(ledger *fakeLedger, st *fakeStore, f ingest.Fetcher, pub ingest.RunPublisher) *ingest.Runner {
	return ingest.NewRunner(ledger, st, st, f,
		clockwork.NewFakeClockAt(fixedNow), slog.Default(), observability.NewMetricsForTesting(),
		ingest.RunnerOptions{
			JobTimeout:         time.Minute,
			QCWindowSize:       24,
			QCSpreadMultiplier: 3.0,
			ClimatologyVersion: "1991-2020",
			Publisher:          pub,
		})
}

// --- tests ---

func TestRunner_BuoyHappyPath(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.NoError(t, err)

	assert.Equal(t, domain.JobSuccess, run.Status)
	assert.Equal(t, 3, run.RowsUpserted)
	assert.Equal(t, 0, run.RowsRejected)
	require.NotNil(t, run.Watermark)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), run.Watermark.UTC())
	assert.NotEmpty(t, run.JobID)

	assert.Len(t, st.obs, 3)
	for _, o := range st.obs {
		assert.Equal(t, domain.VariableSST, o.Variable)
		assert.Equal(t, "ndbc-buoys", o.SourceID)
		assert.Equal(t, run.JobID, o.JobID)
	}

	station, ok := st.stations["41001"]
	require.True(t, ok)
	assert.Equal(t, "NDBC", station.Provider)
	assert.True(t, station.Active)

	final := ledger.lastFinalized(t)
	assert.Equal(t, domain.JobSuccess, final.Status)
	require.NotNil(t, final.FinishedAt)
}

func TestRunner_MissingValuesMakeRunPartial(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(feedWithMissing)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.NoError(t, err)

	assert.Equal(t, domain.JobPartial, run.Status)
	assert.Equal(t, 2, run.RowsUpserted)
	assert.Equal(t, 1, run.RowsRejected)
	assert.Len(t, st.obs, 2)
}

func TestRunner_AllRecordsRejectedFinalizesFailed(t *testing.T) {
	const allMissingFeed = `#YYYY MM DD hh mm WTMP
#yr   mo dy hr mn degC
2024 01 15 12 00 MM
2024 01 15 11 00 MM
2024 01 15 10 00 MM
`
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(allMissingFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.Error(t, err)

	assert.Equal(t, domain.JobFailed, run.Status, "zero upserts with rejections is a failed run, not partial")
	assert.Zero(t, run.RowsUpserted)
	assert.Equal(t, 3, run.RowsRejected)
	assert.Nil(t, run.Watermark)
	assert.Contains(t, run.ErrorDetail, "rejected")
	assert.Empty(t, st.obs)
}

func TestRunner_TimeoutRecordsTimeoutDetail(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}

	r := ingest.NewRunner(ledger, st, st, fetcher,
		clockwork.NewFakeClockAt(fixedNow), slog.Default(), observability.NewMetricsForTesting(),
		ingest.RunnerOptions{
			JobTimeout:         50 * time.Millisecond,
			QCWindowSize:       24,
			QCSpreadMultiplier: 3.0,
			ClimatologyVersion: "1991-2020",
		})

	run, err := r.Run(context.Background(), buoySource())
	require.Error(t, err)

	assert.Equal(t, domain.JobFailed, run.Status)
	assert.Equal(t, "timeout", run.ErrorDetail)
	assert.Nil(t, run.Watermark)
}

func TestRunner_IncrementalSkipsRecordsAtOrBeforeWatermark(t *testing.T) {
	wm := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{watermark: &wm}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.NoError(t, err)

	assert.Equal(t, 1, run.RowsUpserted)
	require.NotNil(t, run.Watermark)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), run.Watermark.UTC())
}

func TestRunner_WatermarkNeverRegresses(t *testing.T) {
	wm := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{watermark: &wm}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.NoError(t, err)

	assert.Equal(t, domain.JobSuccess, run.Status)
	assert.Equal(t, 0, run.RowsUpserted)
	require.NotNil(t, run.Watermark)
	assert.True(t, run.Watermark.Equal(wm), "watermark moved backwards: %v", run.Watermark)
}

func TestRunner_FetchFailureFinalizesFailed(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{errs: map[string]error{
		stationURL("41001"): errors.New("connection refused"),
	}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource())
	require.Error(t, err)

	assert.Equal(t, domain.JobFailed, run.Status)
	assert.Zero(t, run.RowsUpserted)
	assert.Nil(t, run.Watermark)
	assert.Contains(t, run.ErrorDetail, "41001")
	assert.Empty(t, st.obs)
}

func TestRunner_PartialWhenOneStationFails(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)},
		errs:     map[string]error{stationURL("44013"): errors.New("timeout")},
	}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.Run(context.Background(), buoySource("41001", "44013"))
	require.NoError(t, err)

	assert.Equal(t, domain.JobPartial, run.Status)
	assert.Equal(t, 3, run.RowsUpserted)
	assert.Contains(t, run.ErrorDetail, "44013")
	require.NotNil(t, run.Watermark, "successful stations still advance the watermark")
}

func TestRunner_RunFullIgnoresWatermark(t *testing.T) {
	wm := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{watermark: &wm}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	run, err := r.RunFull(context.Background(), buoySource())
	require.NoError(t, err)
	assert.Equal(t, 3, run.RowsUpserted)
}

func TestRunner_ReingestionConverges(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}

	r := newTestRunner(ledger, st, fetcher, nil)
	_, err := r.RunFull(context.Background(), buoySource())
	require.NoError(t, err)
	_, err = r.RunFull(context.Background(), buoySource())
	require.NoError(t, err)

	assert.Len(t, st.obs, 3, "re-ingesting the same feed must not duplicate rows")
}

func TestRunner_PublishesFinalizedRun(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{stationURL("41001"): []byte(goodFeed)}}
	pub := &fakePublisher{}

	r := newTestRunner(ledger, st, fetcher, pub)
	run, err := r.Run(context.Background(), buoySource())
	require.NoError(t, err)

	require.Len(t, pub.runs, 1)
	assert.Equal(t, run.JobID, pub.runs[0].JobID)
	assert.Equal(t, domain.JobSuccess, pub.runs[0].Status)
}

// blockingFetcher parks the first call until released, so a second run can
// be attempted while the first still holds the source lock.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []byte(goodFeed), nil
}

func TestRunner_OverlappingRunsRefused(t *testing.T) {
	ledger := &fakeLedger{}
	st := newFakeStore()
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}

	r := newTestRunner(ledger, st, fetcher, nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), buoySource())
		done <- err
	}()

	<-fetcher.started
	_, err := r.Run(context.Background(), buoySource())
	assert.ErrorIs(t, err, ingest.ErrSourceBusy)

	close(fetcher.release)
	require.NoError(t, <-done)
}
