package dukascopy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

// ProviderType is the market.yaml type name.
const ProviderType = "dukascopy"

func init() {
	market.RegisterProvider(ProviderType, func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		return NewProvider(name, cfg)
	})
}

// Provider adapts the datafeed client to market.Provider.
type Provider struct {
	name        string
	client      *Client
	instruments map[string]market.Instrument
	enabled     bool
}

var (
	_ market.Provider = (*Provider)(nil)
	_ market.Toggle   = (*Provider)(nil)
)

// NewProvider builds a provider from configuration. A non-empty symbol list
// restricts the catalogue.
func NewProvider(name string, cfg *market.ProviderConfig) (*Provider, error) {
	if cfg == nil {
		cfg = &market.ProviderConfig{Enabled: true}
	}
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
		WithConcurrency(cfg.Concurrency),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}

	instruments := make(map[string]market.Instrument)
	if len(cfg.Symbols) == 0 {
		for _, inst := range Instruments() {
			instruments[inst.Symbol] = inst
		}
	}
	for _, sym := range cfg.Symbols {
		inst, ok := Lookup(sym)
		if !ok {
			return nil, fmt.Errorf("dukascopy: %w %q", market.ErrUnknownInstrument, sym)
		}
		instruments[inst.Symbol] = inst
	}
	return &Provider{
		name:        name,
		client:      NewClient(opts...),
		instruments: instruments,
		enabled:     cfg.Enabled,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ImportEnabled() bool { return p.enabled }

func (p *Provider) Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(p.instruments))
	for _, inst := range Instruments() {
		if _, ok := p.instruments[inst.Symbol]; ok {
			out = append(out, inst)
		}
	}
	return out
}

func (p *Provider) Instrument(symbol string) (market.Instrument, bool) {
	inst, ok := Lookup(symbol)
	if !ok {
		return market.Instrument{}, false
	}
	_, ok = p.instruments[inst.Symbol]
	return inst, ok
}

func (p *Provider) Granularities() []candle.Timeframe {
	return []candle.Timeframe{candle.M1, candle.H1, candle.D1}
}

func (p *Provider) FetchTicks(ctx context.Context, symbol string, from, to time.Time) ([]candle.Tick, error) {
	inst, ok := p.Instrument(symbol)
	if !ok {
		return nil, fmt.Errorf("dukascopy: %w %q", market.ErrUnknownInstrument, symbol)
	}
	return p.client.Ticks(ctx, inst.Symbol, inst.Decimals, from, to)
}

func (p *Provider) FetchCandles(ctx context.Context, symbol string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	inst, ok := p.Instrument(symbol)
	if !ok {
		return nil, fmt.Errorf("dukascopy: %w %q", market.ErrUnknownInstrument, symbol)
	}
	return p.client.Candles(ctx, inst.Symbol, inst.Decimals, tf, from, to)
}
