package market

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/segment"
)

const (
	DefaultWindowLimit = 500
	MaxWindowLimit     = 5000
)

// Window sources.
const (
	SourceIndex    = "index"
	SourceSegments = "segments"
	SourceCache    = "cache"
)

// Query asks for the last Limit candles at or before To (the latest when To is 0).
type Query struct {
	Asset     string
	Timeframe candle.Timeframe
	To        int64
	Limit     int
}

// Window is a resolved slice of a series.
type Window struct {
	Asset     string           `json:"asset"`
	Timeframe candle.Timeframe `json:"timeframe"`
	Candles   []candle.Candle  `json:"candles"`
	Source    string           `json:"source"`
}

// SeriesSummary reports the extent of a stored series.
type SeriesSummary struct {
	Asset     string           `json:"asset"`
	Timeframe candle.Timeframe `json:"timeframe"`
	Range     candle.Range     `json:"range"`
	Count     int64            `json:"count"`
	Source    string           `json:"source"`
}

// SegmentSource is the read side of the segment store.
type SegmentSource interface {
	Window(asset string, tf candle.Timeframe, to int64, limit int) ([]candle.Candle, error)
	LoadMeta(asset string, tf candle.Timeframe) (*segment.Meta, error)
}

// Resolver answers window and summary reads from the index when it has rows,
// falling back to the segment files otherwise.
type Resolver struct {
	index    SeriesIndex
	segments SegmentSource
	cache    WindowCache
	maxLimit int
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithIndex enables the indexed bar store. A nil index is ignored.
func WithIndex(index SeriesIndex) ResolverOption {
	return func(r *Resolver) {
		if index != nil {
			r.index = index
		}
	}
}

// WithCache enables a read cache. A nil cache is ignored.
func WithCache(cache WindowCache) ResolverOption {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithMaxLimit overrides the largest window that can be requested.
func WithMaxLimit(max int) ResolverOption {
	return func(r *Resolver) {
		if max > 0 {
			r.maxLimit = max
		}
	}
}

// NewResolver builds a resolver over segments.
func NewResolver(segments SegmentSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{segments: segments, maxLimit: MaxWindowLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize validates and fills defaults on q.
func (r *Resolver) Normalize(q Query) (Query, error) {
	asset, err := segment.NormalizeAsset(q.Asset)
	if err != nil {
		return q, apperr.Wrap(apperr.InputError, err, "")
	}
	q.Asset = asset
	tf, err := candle.ParseTimeframe(string(q.Timeframe))
	if err != nil {
		return q, apperr.Wrap(apperr.InputError, err, "")
	}
	q.Timeframe = tf
	switch {
	case q.Limit < 0:
		return q, apperr.New(apperr.InputError, "limit must be positive, got %d", q.Limit)
	case q.Limit == 0:
		q.Limit = DefaultWindowLimit
	case q.Limit > r.maxLimit:
		q.Limit = r.maxLimit
	}
	if q.To < 0 {
		return q, apperr.New(apperr.InputError, "to must be a positive epoch millisecond timestamp")
	}
	return q, nil
}

// GetWindow resolves q. It returns nil, nil when the series has no data.
func (r *Resolver) GetWindow(ctx context.Context, q Query) (*Window, error) {
	q, err := r.Normalize(q)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if candles, ok := r.cache.GetWindow(ctx, q); ok {
			return &Window{Asset: q.Asset, Timeframe: q.Timeframe, Candles: candles, Source: SourceCache}, nil
		}
	}

	window, err := r.resolve(ctx, q)
	if err != nil || window == nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetWindow(ctx, q, window.Candles)
	}
	return window, nil
}

func (r *Resolver) resolve(ctx context.Context, q Query) (*Window, error) {
	if r.index != nil {
		candles, err := r.index.Window(ctx, q.Asset, q.Timeframe, q.To, q.Limit)
		switch {
		case err != nil:
			logx.WithContext(ctx).Errorf("market: index window asset=%s timeframe=%s err=%v, using segments", q.Asset, q.Timeframe, err)
		case len(candles) > 0:
			return &Window{Asset: q.Asset, Timeframe: q.Timeframe, Candles: candles, Source: SourceIndex}, nil
		}
	}
	candles, err := r.segments.Window(q.Asset, q.Timeframe, q.To, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("market: segment window: %w", err)
	}
	if len(candles) == 0 {
		return nil, nil
	}
	return &Window{Asset: q.Asset, Timeframe: q.Timeframe, Candles: candles, Source: SourceSegments}, nil
}

// GetSummary returns range and count of a series, nil, nil when it has no data.
func (r *Resolver) GetSummary(ctx context.Context, asset string, tf candle.Timeframe) (*SeriesSummary, error) {
	q, err := r.Normalize(Query{Asset: asset, Timeframe: tf, Limit: 1})
	if err != nil {
		return nil, err
	}
	asset, tf = q.Asset, q.Timeframe
	if r.cache != nil {
		if s, ok := r.cache.GetSummary(ctx, asset, tf); ok {
			return &SeriesSummary{Asset: asset, Timeframe: tf, Range: s.Range, Count: s.Count, Source: SourceCache}, nil
		}
	}

	summary, source, err := r.summary(ctx, asset, tf)
	if err != nil || summary == nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetSummary(ctx, asset, tf, summary)
	}
	return &SeriesSummary{Asset: asset, Timeframe: tf, Range: summary.Range, Count: summary.Count, Source: source}, nil
}

func (r *Resolver) summary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, string, error) {
	if r.index != nil {
		s, err := r.index.Summary(ctx, asset, tf)
		switch {
		case err != nil:
			logx.WithContext(ctx).Errorf("market: index summary asset=%s timeframe=%s err=%v, using segments", asset, tf, err)
		case s != nil && s.Count > 0:
			return s, SourceIndex, nil
		}
	}
	meta, err := r.segments.LoadMeta(asset, tf)
	if err != nil {
		return nil, "", fmt.Errorf("market: segment summary: %w", err)
	}
	if meta == nil || meta.TotalCount == 0 {
		return nil, "", nil
	}
	return &candle.Summary{Range: meta.Range, Count: int64(meta.TotalCount)}, SourceSegments, nil
}

// Invalidate drops cached reads of a series after it was written.
func (r *Resolver) Invalidate(ctx context.Context, asset string, tf candle.Timeframe) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, asset, tf)
	}
}
