package market

import (
	"context"
	"errors"
	"time"

	"chartlab-api/pkg/candle"
)

// ErrUnknownInstrument is returned when a provider does not list a symbol.
var ErrUnknownInstrument = errors.New("market: unknown instrument")

// Provider exposes historical market data for a catalogue of instruments.
type Provider interface {
	// Name returns the configured provider id.
	Name() string
	// Instruments lists the supported instruments.
	Instruments() []Instrument
	// Instrument looks up a symbol case-insensitively.
	Instrument(symbol string) (Instrument, bool)
	// Granularities lists the candle resolutions the provider serves natively, finest first.
	Granularities() []candle.Timeframe
	// FetchTicks returns raw ticks in [from, to).
	FetchTicks(ctx context.Context, symbol string, from, to time.Time) ([]candle.Tick, error)
	// FetchCandles returns candles of a native granularity in [from, to).
	FetchCandles(ctx context.Context, symbol string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error)
}

// Instrument describes a tradeable symbol.
type Instrument struct {
	Symbol      string    `json:"symbol"`
	Description string    `json:"description"`
	Decimals    int       `json:"decimals"`
	Since       time.Time `json:"since"`
}

// Toggle is implemented by providers whose import mode can be switched off in configuration.
type Toggle interface {
	ImportEnabled() bool
}

// ImportEnabled reports whether imports may run against p.
func ImportEnabled(p Provider) bool {
	if t, ok := p.(Toggle); ok {
		return t.ImportEnabled()
	}
	return true
}

// TickFeed is implemented by providers that can say whether they publish raw ticks.
type TickFeed interface {
	HasTicks() bool
}

// HasTicks reports whether FetchTicks is served by p.
func HasTicks(p Provider) bool {
	if t, ok := p.(TickFeed); ok {
		return t.HasTicks()
	}
	return true
}

// BestGranularity picks the coarsest native granularity that evenly divides tf.
func BestGranularity(p Provider, tf candle.Timeframe) (candle.Timeframe, bool) {
	target := tf.Minutes()
	var (
		best  candle.Timeframe
		found bool
	)
	for _, g := range p.Granularities() {
		m := g.Minutes()
		if m == 0 || m > target || target%m != 0 {
			continue
		}
		if !found || m > best.Minutes() {
			best, found = g, true
		}
	}
	return best, found
}
