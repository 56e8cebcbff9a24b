// Package synthetic serves deterministic generated quotes for development and tests.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

// ProviderType is the market.yaml type name.
const ProviderType = "synthetic"

const tickInterval = 15 * time.Second

var defaultSince = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func init() {
	market.RegisterProvider(ProviderType, func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		return NewProvider(name, cfg), nil
	})
}

// Provider generates a smooth price path per symbol. The same symbol and
// seed always produce the same series.
type Provider struct {
	name    string
	seed    int64
	enabled bool
	symbols []string
}

var (
	_ market.Provider = (*Provider)(nil)
	_ market.Toggle   = (*Provider)(nil)
)

// NewProvider builds a provider. Without configured symbols it serves "synusd".
func NewProvider(name string, cfg *market.ProviderConfig) *Provider {
	p := &Provider{name: name, enabled: true, symbols: []string{"synusd"}}
	if cfg != nil {
		p.seed = cfg.Seed
		p.enabled = cfg.Enabled
		if len(cfg.Symbols) > 0 {
			p.symbols = cfg.Symbols
		}
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ImportEnabled() bool { return p.enabled }

func (p *Provider) Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(p.symbols))
	for _, s := range p.symbols {
		out = append(out, p.instrument(s))
	}
	return out
}

func (p *Provider) instrument(symbol string) market.Instrument {
	return market.Instrument{
		Symbol:      symbol,
		Description: "Synthetic " + strings.ToUpper(symbol),
		Decimals:    5,
		Since:       defaultSince,
	}
}

func (p *Provider) Instrument(symbol string) (market.Instrument, bool) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	for _, s := range p.symbols {
		if s == symbol {
			return p.instrument(s), true
		}
	}
	return market.Instrument{}, false
}

func (p *Provider) Granularities() []candle.Timeframe {
	return []candle.Timeframe{candle.M1, candle.H1, candle.D1}
}

func (p *Provider) FetchTicks(ctx context.Context, symbol string, from, to time.Time) ([]candle.Tick, error) {
	inst, ok := p.Instrument(symbol)
	if !ok {
		return nil, fmt.Errorf("synthetic: %w %q", market.ErrUnknownInstrument, symbol)
	}
	phase := p.phase(inst.Symbol)
	var out []candle.Tick
	for t := ceil(from, tickInterval); t.Before(to); t = t.Add(tickInterval) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ms := t.UnixMilli()
		mid := round(price(ms, phase), inst.Decimals)
		spread := math.Pow10(-inst.Decimals) * 2
		bid, ask := mid-spread/2, mid+spread/2
		vol := 1 + float64(ms/int64(tickInterval/time.Millisecond)%7)
		out = append(out, candle.Tick{Timestamp: ms, BidPrice: &bid, AskPrice: &ask, AskVolume: &vol})
	}
	return out, nil
}

func (p *Provider) FetchCandles(ctx context.Context, symbol string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	inst, ok := p.Instrument(symbol)
	if !ok {
		return nil, fmt.Errorf("synthetic: %w %q", market.ErrUnknownInstrument, symbol)
	}
	step := tf.Duration()
	if step == 0 {
		return nil, fmt.Errorf("synthetic: unknown timeframe %q", tf)
	}
	phase := p.phase(inst.Symbol)
	var out []candle.Candle
	for t := ceil(from, step); t.Before(to); t = t.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := t.UnixMilli(), t.Add(step).UnixMilli()-1
		open := round(price(start, phase), inst.Decimals)
		closeP := round(price(end, phase), inst.Decimals)
		mid := round(price((start+end)/2, phase), inst.Decimals)
		out = append(out, candle.Candle{
			Time:   start,
			Open:   open,
			Close:  closeP,
			High:   math.Max(open, math.Max(closeP, mid)),
			Low:    math.Min(open, math.Min(closeP, mid)),
			Volume: float64(step/tickInterval) * 4,
		})
	}
	return out, nil
}

func (p *Provider) phase(symbol string) float64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s:%d", symbol, p.seed)
	return float64(h.Sum64()%10_000) / 10_000 * 2 * math.Pi
}

// price mixes a daily and a weekly wave around 1.0.
func price(ms int64, phase float64) float64 {
	hours := float64(ms) / float64(time.Hour/time.Millisecond)
	return 1 + 0.01*math.Sin(hours/24*2*math.Pi+phase) + 0.03*math.Sin(hours/168*2*math.Pi+phase/2)
}

func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

func ceil(t time.Time, step time.Duration) time.Time {
	t = t.UTC()
	floor := t.Truncate(step)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(step)
}
