package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

// ProviderType is the market.yaml type name.
const ProviderType = "hyperliquid"

// ErrNoTicks is returned by FetchTicks: the info endpoint only serves candles.
var ErrNoTicks = errors.New("hyperliquid: raw ticks are not available")

func since(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// catalogue lists perpetuals by lower-case coin name.
var catalogue = map[string]market.Instrument{
	"btc":  {Symbol: "btc", Description: "Bitcoin perpetual", Decimals: 1, Since: since(2023, time.June, 1)},
	"eth":  {Symbol: "eth", Description: "Ether perpetual", Decimals: 2, Since: since(2023, time.June, 1)},
	"sol":  {Symbol: "sol", Description: "Solana perpetual", Decimals: 3, Since: since(2023, time.June, 1)},
	"arb":  {Symbol: "arb", Description: "Arbitrum perpetual", Decimals: 5, Since: since(2023, time.June, 1)},
	"doge": {Symbol: "doge", Description: "Dogecoin perpetual", Decimals: 6, Since: since(2023, time.June, 1)},
	"hype": {Symbol: "hype", Description: "Hyperliquid perpetual", Decimals: 4, Since: since(2024, time.November, 29)},
}

func init() {
	market.RegisterProvider(ProviderType, func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		return NewProvider(name, cfg)
	})
}

// Provider serves Hyperliquid perpetual candles through market.Provider.
type Provider struct {
	name        string
	client      *Client
	instruments map[string]market.Instrument
	enabled     bool
}

var (
	_ market.Provider = (*Provider)(nil)
	_ market.Toggle   = (*Provider)(nil)
	_ market.TickFeed = (*Provider)(nil)
)

// NewProvider constructs a Hyperliquid market provider. A non-empty symbol
// list restricts the catalogue.
func NewProvider(name string, cfg *market.ProviderConfig) (*Provider, error) {
	if cfg == nil {
		cfg = &market.ProviderConfig{Enabled: true}
	}
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}

	instruments := make(map[string]market.Instrument)
	if len(cfg.Symbols) == 0 {
		for sym, inst := range catalogue {
			instruments[sym] = inst
		}
	}
	for _, sym := range cfg.Symbols {
		inst, ok := catalogue[strings.ToLower(strings.TrimSpace(sym))]
		if !ok {
			return nil, fmt.Errorf("hyperliquid: %w %q", market.ErrUnknownInstrument, sym)
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

func (p *Provider) HasTicks() bool { return false }

func (p *Provider) Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(p.instruments))
	for _, inst := range p.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *Provider) Instrument(symbol string) (market.Instrument, bool) {
	inst, ok := p.instruments[strings.ToLower(strings.TrimSpace(symbol))]
	return inst, ok
}

func (p *Provider) Granularities() []candle.Timeframe {
	return candle.All()
}

func (p *Provider) FetchTicks(context.Context, string, time.Time, time.Time) ([]candle.Tick, error) {
	return nil, ErrNoTicks
}

func (p *Provider) FetchCandles(ctx context.Context, symbol string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	inst, ok := p.Instrument(symbol)
	if !ok {
		return nil, fmt.Errorf("hyperliquid: %w %q", market.ErrUnknownInstrument, symbol)
	}
	return p.client.Candles(ctx, strings.ToUpper(inst.Symbol), tf, from, to)
}
