package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/metric"
	"github.com/zeromicro/go-zero/core/threading"

	"chartlab-api/internal/jobs"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
	"chartlab-api/pkg/segment"
)

const (
	// fetchShare is the part of the progress bar spent on timeframes; the rest is finalization.
	fetchShare = 0.9

	defaultLookbackDays    = 30
	defaultTickWindowHours = 24
	defaultChunkDays       = 31
)

var metricJobs = metric.NewCounterVec(&metric.CounterVecOpts{
	Namespace: "chartlab",
	Subsystem: "import",
	Name:      "jobs_total",
	Help:      "import jobs by final status",
	Labels:    []string{"status"},
})

// Config tunes range resolution and fetching.
type Config struct {
	LookbackDays    int `json:",default=30"`
	TickWindowHours int `json:",default=24"`
	ChunkDays       int `json:",default=31"`
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = defaultLookbackDays
	}
	if c.TickWindowHours <= 0 {
		c.TickWindowHours = defaultTickWindowHours
	}
	if c.ChunkDays <= 0 {
		c.ChunkDays = defaultChunkDays
	}
	return c
}

// BarIndex receives a copy of every persisted batch.
type BarIndex interface {
	Upsert(ctx context.Context, asset string, tf candle.Timeframe, candles []candle.Candle) (int64, error)
}

// Invalidator drops cached reads of a series.
type Invalidator interface {
	Invalidate(ctx context.Context, asset string, tf candle.Timeframe)
}

// Request is an import submission.
type Request struct {
	Asset       string
	Timeframe   string
	StartDate   string
	EndDate     string
	FullHistory bool
}

// Importer runs fetch, aggregate and persist jobs against one provider.
type Importer struct {
	provider market.Provider
	writer   *segment.Writer
	registry *jobs.Registry
	index    BarIndex
	cache    Invalidator
	cfg      Config
	now      func() time.Time

	wg sync.WaitGroup
}

// Option customises an Importer.
type Option func(*Importer)

// WithIndex mirrors persisted candles into index.
func WithIndex(index BarIndex) Option {
	return func(im *Importer) {
		if index != nil {
			im.index = index
		}
	}
}

// WithInvalidator drops stale reads after every write.
func WithInvalidator(inv Invalidator) Option {
	return func(im *Importer) {
		if inv != nil {
			im.cache = inv
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) {
		im.now = now
	}
}

// New returns an importer.
func New(provider market.Provider, writer *segment.Writer, registry *jobs.Registry, cfg Config, opts ...Option) *Importer {
	im := &Importer{
		provider: provider,
		writer:   writer,
		registry: registry,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Provider returns the data source.
func (im *Importer) Provider() market.Provider {
	return im.provider
}

// plan is a validated request.
type plan struct {
	asset      string
	instrument market.Instrument
	label      string
	timeframes []candle.Timeframe
	start, end time.Time
	hasStart   bool
	hasEnd     bool
	full       bool
}

// Submit validates req, registers a queued job and runs it in the background.
func (im *Importer) Submit(ctx context.Context, req Request) (*jobs.Job, error) {
	p, err := im.validate(req)
	if err != nil {
		return nil, err
	}
	job, err := im.registry.Create(ctx, p.asset, p.label)
	if err != nil {
		return nil, apperr.Wrap(apperr.ServerError, err, "register import job")
	}

	handle := im.registry.Handle(job)
	runCtx := context.WithoutCancel(ctx)
	im.wg.Add(1)
	threading.GoSafe(func() {
		defer im.wg.Done()
		im.run(runCtx, handle, p)
	})
	return job, nil
}

// Wait blocks until every submitted job has finished.
func (im *Importer) Wait() {
	im.wg.Wait()
}

func (im *Importer) validate(req Request) (*plan, error) {
	asset, err := segment.NormalizeAsset(req.Asset)
	if err != nil {
		return nil, apperr.New(apperr.InputError, "invalid asset %q", req.Asset)
	}
	inst, ok := im.provider.Instrument(asset)
	if !ok {
		return nil, apperr.New(apperr.InputError, "asset %q is not supported by %s", asset, im.provider.Name())
	}
	if !market.ImportEnabled(im.provider) {
		return nil, apperr.New(apperr.InputError, "%s import mode is disabled", im.provider.Name())
	}

	p := &plan{asset: asset, instrument: inst, full: req.FullHistory}
	raw := strings.ToLower(strings.TrimSpace(req.Timeframe))
	switch raw {
	case "", "all":
		p.label = "all"
		p.timeframes = candle.All()
	default:
		tf, err := candle.ParseTimeframe(raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.InputError, err, "")
		}
		p.label = string(tf)
		p.timeframes = []candle.Timeframe{tf}
	}

	if s := strings.TrimSpace(req.StartDate); s != "" {
		if p.start, err = parseDate(s, false); err != nil {
			return nil, apperr.Wrap(apperr.InputError, err, "startDate")
		}
		p.hasStart = true
	}
	if s := strings.TrimSpace(req.EndDate); s != "" {
		if p.end, err = parseDate(s, true); err != nil {
			return nil, apperr.Wrap(apperr.InputError, err, "endDate")
		}
		p.hasEnd = true
	}
	if p.hasStart && p.hasEnd && !p.start.Before(p.end) {
		return nil, apperr.New(apperr.InputError, "startDate must be before endDate")
	}
	return p, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. A bare end date covers the whole day.
func parseDate(raw string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		if end {
			t = t.AddDate(0, 0, 1)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339", raw)
	}
	return t.UTC(), nil
}

// resolveRange picks the import window: explicit dates, the full listing
// history, the end of the stored series, or the configured lookback.
func (im *Importer) resolveRange(p *plan) (jobs.ResolvedRange, error) {
	now := im.now().UTC().Truncate(time.Minute)
	r := jobs.ResolvedRange{End: now}
	if p.hasEnd {
		r.End = p.end
	}

	switch {
	case p.hasStart:
		r.Start, r.Mode = p.start, "explicit"
	case p.full:
		r.Start, r.Mode = p.instrument.Since, "fullHistory"
	default:
		start, ok, err := im.resumePoint(p)
		if err != nil {
			return r, err
		}
		if ok {
			r.Start, r.Mode = start, "resume"
		} else {
			r.Start, r.Mode = r.End.AddDate(0, 0, -im.cfg.LookbackDays), "lookback"
		}
	}
	if !p.instrument.Since.IsZero() && r.Start.Before(p.instrument.Since) {
		r.Start = p.instrument.Since
	}
	return r, nil
}

// resumePoint returns the earliest end among the stored series. It reports
// false when any requested timeframe has no data yet.
func (im *Importer) resumePoint(p *plan) (time.Time, bool, error) {
	var earliest time.Time
	for _, tf := range p.timeframes {
		meta, err := im.writer.Store().LoadMeta(p.asset, tf)
		if err != nil {
			return time.Time{}, false, err
		}
		if meta == nil || meta.TotalCount == 0 {
			return time.Time{}, false, nil
		}
		// the last stored bucket may be partial, so it is fetched again
		next := time.UnixMilli(meta.Range.End).UTC()
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest, !earliest.IsZero(), nil
}

func (im *Importer) run(ctx context.Context, h *jobs.Handle, p *plan) {
	ctx = logx.ContextWithFields(ctx, logx.Field("job", h.ID()), logx.Field("asset", p.asset))
	names := make([]string, len(p.timeframes))
	for i, tf := range p.timeframes {
		names[i] = string(tf)
	}
	h.Start(ctx, names)

	status := string(jobs.StatusCompleted)
	defer func() { metricJobs.Inc(status) }()

	r, err := im.resolveRange(p)
	if err != nil {
		status = string(jobs.StatusError)
		h.Fail(ctx, fmt.Errorf("resolve range: %w", err))
		return
	}
	h.SetRange(ctx, r)
	h.Logf(ctx, "range resolved (%s): %s to %s", r.Mode, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	if !r.Start.Before(r.End) {
		h.Logf(ctx, "series already up to date")
		h.Complete(ctx)
		return
	}

	share := fetchShare / float64(len(p.timeframes))
	total := 0
	for i, tf := range p.timeframes {
		n, err := im.importTimeframe(ctx, h, p, tf, r, float64(i)*share, share)
		if err != nil {
			status = string(jobs.StatusError)
			h.Fail(ctx, fmt.Errorf("%s: %w", tf, err))
			return
		}
		total += n
		h.SetProgress(ctx, float64(i+1)*share)
	}

	h.SetProgress(ctx, fetchShare)
	h.Logf(ctx, "finalized: %d candles persisted across %d timeframe(s)", total, len(p.timeframes))
	h.Complete(ctx)
}

// importTimeframe fetches r chunk by chunk and persists every chunk. It
// returns the number of candles written.
func (im *Importer) importTimeframe(ctx context.Context, h *jobs.Handle, p *plan, tf candle.Timeframe, r jobs.ResolvedRange, base, share float64) (int, error) {
	src := im.sourceFor(tf, r)
	h.Logf(ctx, "%s: fetching from %s", tf, src)

	// chunks start on bucket boundaries so no bucket is split across two fetches
	chunks := split(r.Start.Truncate(tf.Duration()), r.End, time.Duration(im.cfg.ChunkDays)*24*time.Hour)
	fetched, written := 0, 0
	// chunks already on disk must not be shadowed by cached reads, even when a later chunk fails
	defer func() {
		if written > 0 && im.cache != nil {
			im.cache.Invalidate(ctx, p.asset, tf)
		}
	}()
	for k, c := range chunks {
		candles, err := im.fetch(ctx, p.asset, tf, src, c[0], c[1])
		if err != nil {
			return written, fmt.Errorf("fetch %s..%s: %w", c[0].Format(time.DateOnly), c[1].Format(time.DateOnly), err)
		}
		fetched += len(candles)
		if len(candles) > 0 {
			res, err := im.writer.WriteCandles(ctx, p.asset, tf, candles)
			if err != nil {
				return written, fmt.Errorf("persist: %w", err)
			}
			written += res.Received
			im.mirror(ctx, h, p.asset, tf, candles)
		}
		h.SetProgress(ctx, base+share*float64(k+1)/float64(len(chunks)))
	}

	if fetched == 0 {
		h.Logf(ctx, "warning: %s: provider returned no data for the range", tf)
		return 0, nil
	}
	meta, err := im.writer.Store().LoadMeta(p.asset, tf)
	if err != nil {
		return written, err
	}
	totalCount := 0
	if meta != nil {
		totalCount = meta.TotalCount
	}
	h.Logf(ctx, "%s: fetched %d candles, persisted %d (series total %d)", tf, fetched, written, totalCount)
	return written, nil
}

func (im *Importer) mirror(ctx context.Context, h *jobs.Handle, asset string, tf candle.Timeframe, candles []candle.Candle) {
	if im.index == nil {
		return
	}
	if _, err := im.index.Upsert(ctx, asset, tf, candles); err != nil {
		h.Logf(ctx, "warning: %s: index upsert failed: %v", tf, err)
	}
}

// source names where a timeframe's candles come from.
type source struct {
	ticks  bool
	native candle.Timeframe
}

func (s source) String() string {
	if s.ticks {
		return "ticks"
	}
	return string(s.native) + " candles"
}

// sourceFor uses ticks for short intraday ranges when the provider has them,
// otherwise the coarsest provider granularity that divides tf.
func (im *Importer) sourceFor(tf candle.Timeframe, r jobs.ResolvedRange) source {
	window := time.Duration(im.cfg.TickWindowHours) * time.Hour
	native, ok := market.BestGranularity(im.provider, tf)
	if !ok {
		return source{ticks: true}
	}
	if market.HasTicks(im.provider) && tf.Intraday() && r.End.Sub(r.Start) <= window {
		return source{ticks: true}
	}
	return source{native: native}
}

func (im *Importer) fetch(ctx context.Context, asset string, tf candle.Timeframe, src source, from, to time.Time) ([]candle.Candle, error) {
	if src.ticks {
		ticks, err := im.provider.FetchTicks(ctx, asset, from, to)
		if err != nil {
			return nil, err
		}
		return candle.FromTicks(ticks, tf.Minutes()), nil
	}
	candles, err := im.provider.FetchCandles(ctx, asset, src.native, from, to)
	if err != nil {
		return nil, err
	}
	return candle.Convert(candles, src.native, tf), nil
}

// split cuts [from, to) into consecutive chunks no longer than size.
func split(from, to time.Time, size time.Duration) [][2]time.Time {
	var out [][2]time.Time
	for start := from; start.Before(to); start = start.Add(size) {
		end := start.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{start, end})
	}
	return out
}
