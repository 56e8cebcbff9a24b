package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlab-api/internal/jobs"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
	"chartlab-api/pkg/market/synthetic"
	"chartlab-api/pkg/segment"
)

type fixture struct {
	im       *Importer
	store    *segment.Store
	registry *jobs.Registry
	index    *stubIndex
	inv      *stubInvalidator
	now      time.Time
}

type stubIndex struct {
	mu   sync.Mutex
	rows int
	err  error
}

func (s *stubIndex) Upsert(_ context.Context, _ string, _ candle.Timeframe, candles []candle.Candle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.rows += len(candles)
	return int64(len(candles)), nil
}

type stubInvalidator struct {
	mu    sync.Mutex
	calls []candle.Timeframe
}

func (s *stubInvalidator) Invalidate(_ context.Context, _ string, tf candle.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, tf)
}

// failingProvider wraps the synthetic feed with a fixed fetch outcome.
type failingProvider struct {
	*synthetic.Provider
	err error
}

func (p *failingProvider) FetchTicks(context.Context, string, time.Time, time.Time) ([]candle.Tick, error) {
	return nil, p.err
}

func (p *failingProvider) FetchCandles(context.Context, string, candle.Timeframe, time.Time, time.Time) ([]candle.Candle, error) {
	return nil, p.err
}

// candleOnly is a synthetic feed that publishes no ticks.
type candleOnly struct {
	*synthetic.Provider
}

func (candleOnly) HasTicks() bool { return false }

// secondChunkFails serves the first candle fetch and fails every later one.
type secondChunkFails struct {
	candleOnly
	mu    sync.Mutex
	calls int
}

func (p *secondChunkFails) FetchCandles(ctx context.Context, symbol string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	if n > 1 {
		return nil, errors.New("connection reset")
	}
	return p.candleOnly.FetchCandles(ctx, symbol, tf, from, to)
}

func newFixture(t *testing.T, provider market.Provider, now time.Time) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:    segment.NewStore(filepath.Join(dir, "candles")),
		registry: jobs.NewRegistry(jobs.Options{Path: filepath.Join(dir, "jobs", "import-jobs.json")}),
		index:    &stubIndex{},
		inv:      &stubInvalidator{},
		now:      now,
	}
	if provider == nil {
		provider = synthetic.NewProvider("syn", nil)
	}
	f.im = New(provider, segment.NewWriter(f.store), f.registry, Config{},
		WithIndex(f.index), WithInvalidator(f.inv), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) submit(t *testing.T, req Request) *jobs.Job {
	t.Helper()
	job, err := f.im.Submit(context.Background(), req)
	require.NoError(t, err)
	f.im.Wait()
	got, ok := f.registry.Get(job.ID)
	require.True(t, ok)
	return got
}

func logged(job *jobs.Job, fragment string) bool {
	for _, l := range job.Logs {
		if strings.Contains(l.Message, fragment) {
			return true
		}
	}
	return false
}

func TestImportFromTicks(t *testing.T) {
	f := newFixture(t, nil, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "SYNUSD", Timeframe: "H1", StartDate: "2024-05-01", EndDate: "2024-05-01"})

	require.Equal(t, jobs.StatusCompleted, job.Status, job.Error)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "h1", job.Timeframe)
	require.NotNil(t, job.RangeResolved)
	assert.Equal(t, "explicit", job.RangeResolved.Mode)
	assert.True(t, logged(job, "fetching from ticks"))
	assert.True(t, logged(job, "persisted 24"))

	meta, err := f.store.LoadMeta("synusd", candle.H1)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 24, meta.TotalCount)
	assert.Equal(t, 24, f.index.rows)
	assert.Equal(t, []candle.Timeframe{candle.H1}, f.inv.calls)
}

func TestImportCandleOnlyProvider(t *testing.T) {
	f := newFixture(t, candleOnly{synthetic.NewProvider("syn", nil)}, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-05-01", EndDate: "2024-05-01"})
	require.Equal(t, jobs.StatusCompleted, job.Status, job.Error)
	assert.True(t, logged(job, "h1: fetching from h1 candles"))
	assert.True(t, logged(job, "persisted 24"))
}

func TestImportAllTimeframesFromCandles(t *testing.T) {
	f := newFixture(t, nil, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "all", StartDate: "2024-04-01", EndDate: "2024-04-03"})
	require.Equal(t, jobs.StatusCompleted, job.Status, job.Error)
	assert.Len(t, job.Timeframes, len(candle.All()))

	want := map[candle.Timeframe]int{
		candle.M1: 3 * 1440, candle.M5: 3 * 288, candle.M15: 3 * 96, candle.M30: 3 * 48,
		candle.H1: 72, candle.H4: 18, candle.D1: 3,
	}
	for tf, n := range want {
		meta, err := f.store.LoadMeta("synusd", tf)
		require.NoError(t, err)
		require.NotNil(t, meta, tf)
		assert.Equal(t, n, meta.TotalCount, tf)
	}
	assert.True(t, logged(job, "h4: fetching from h1 candles"))
	assert.True(t, logged(job, "finalized"))
}

func TestImportResumesFromStoredEnd(t *testing.T) {
	f := newFixture(t, nil, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	first := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-05-01", EndDate: "2024-05-01"})
	require.Equal(t, jobs.StatusCompleted, first.Status)

	f.now = time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC)
	second := f.submit(t, Request{Asset: "synusd", Timeframe: "h1"})
	require.Equal(t, jobs.StatusCompleted, second.Status, second.Error)
	assert.Equal(t, "resume", second.RangeResolved.Mode)
	assert.Equal(t, time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC), second.RangeResolved.Start)

	meta, err := f.store.LoadMeta("synusd", candle.H1)
	require.NoError(t, err)
	assert.Equal(t, 30, meta.TotalCount)
}

func TestResolveRange(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 30, 45, 0, time.UTC)
	f := newFixture(t, nil, now)

	p, err := f.im.validate(Request{Asset: "synusd", Timeframe: "d1"})
	require.NoError(t, err)
	r, err := f.im.resolveRange(p)
	require.NoError(t, err)
	assert.Equal(t, "lookback", r.Mode)
	assert.Equal(t, now.Truncate(time.Minute), r.End)
	assert.Equal(t, now.Truncate(time.Minute).AddDate(0, 0, -30), r.Start)

	p, err = f.im.validate(Request{Asset: "synusd", Timeframe: "d1", FullHistory: true})
	require.NoError(t, err)
	r, err = f.im.resolveRange(p)
	require.NoError(t, err)
	assert.Equal(t, "fullHistory", r.Mode)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), r.Start)

	p, err = f.im.validate(Request{Asset: "synusd", StartDate: "2001-01-01T00:00:00Z", EndDate: "2024-01-01"})
	require.NoError(t, err)
	r, err = f.im.resolveRange(p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), r.End)
}

func TestSubmitValidation(t *testing.T) {
	disabled := synthetic.NewProvider("off", &market.ProviderConfig{Enabled: false})
	cases := []struct {
		name     string
		provider market.Provider
		req      Request
		message  string
	}{
		{"unknown asset", nil, Request{Asset: "btcusd"}, "not supported"},
		{"invalid asset", nil, Request{Asset: "../x"}, "invalid asset"},
		{"disabled", disabled, Request{Asset: "synusd"}, "disabled"},
		{"timeframe", nil, Request{Asset: "synusd", Timeframe: "w1"}, "unknown timeframe"},
		{"date", nil, Request{Asset: "synusd", StartDate: "May 1"}, "startDate"},
		{"order", nil, Request{Asset: "synusd", StartDate: "2024-05-02", EndDate: "2024-05-01T00:00:00Z"}, "before endDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.provider, time.Now())
			_, err := f.im.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, apperr.InputError, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tc.message)
			assert.Empty(t, f.registry.Snapshot())
		})
	}
}

func TestImportNoDataIsWarning(t *testing.T) {
	p := &failingProvider{Provider: synthetic.NewProvider("syn", nil)}
	f := newFixture(t, p, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-05-01"})
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.True(t, logged(job, "provider returned no data"))
	assert.Empty(t, f.inv.calls)
}

func TestImportFetchFailureFreezesProgress(t *testing.T) {
	p := &failingProvider{Provider: synthetic.NewProvider("syn", nil), err: errors.New("connection reset")}
	f := newFixture(t, p, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-05-01"})
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Contains(t, job.Error, "connection reset")
	assert.Less(t, job.Progress, 1.0)
	assert.True(t, logged(job, "job failed"))
}

func TestImportPartialFailureInvalidatesCache(t *testing.T) {
	p := &secondChunkFails{candleOnly: candleOnly{synthetic.NewProvider("syn", nil)}}
	f := newFixture(t, p, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-03-01", EndDate: "2024-05-01"})
	require.Equal(t, jobs.StatusError, job.Status)
	assert.Contains(t, job.Error, "connection reset")

	meta, err := f.store.LoadMeta("synusd", candle.H1)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Positive(t, meta.TotalCount)
	assert.Equal(t, []candle.Timeframe{candle.H1}, f.inv.calls)
}

func TestImportIndexFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	f.index.err = errors.New("database is locked")
	job := f.submit(t, Request{Asset: "synusd", Timeframe: "h1", StartDate: "2024-05-01"})
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.True(t, logged(job, "index upsert failed"))
}

func TestSplit(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chunks := split(from, from.Add(50*time.Hour), 24*time.Hour)
	require.Len(t, chunks, 3)
	assert.Equal(t, from.Add(48*time.Hour), chunks[2][0])
	assert.Equal(t, from.Add(50*time.Hour), chunks[2][1])
	assert.Empty(t, split(from, from, time.Hour))
}
