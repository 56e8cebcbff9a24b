package market

import (
	"context"

	"chartlab-api/pkg/candle"
)

// SeriesIndex is the optional indexed bar store consulted before segment files.
type SeriesIndex interface {
	Window(ctx context.Context, asset string, tf candle.Timeframe, to int64, limit int) ([]candle.Candle, error)
	Summary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, error)
}

// WindowCache memoizes resolved windows and summaries. Implementations must
// tolerate being unavailable: a miss is always safe.
type WindowCache interface {
	GetWindow(ctx context.Context, q Query) ([]candle.Candle, bool)
	SetWindow(ctx context.Context, q Query, candles []candle.Candle)
	GetSummary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, bool)
	SetSummary(ctx context.Context, asset string, tf candle.Timeframe, s *candle.Summary)
	// Invalidate drops every cached entry of a series.
	Invalidate(ctx context.Context, asset string, tf candle.Timeframe)
}
