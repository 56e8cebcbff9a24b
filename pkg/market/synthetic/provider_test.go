package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

func TestDeterministicSeries(t *testing.T) {
	p := NewProvider("syn", &market.ProviderConfig{Symbols: []string{"synusd", "syneur"}, Seed: 7, Enabled: true})
	ctx := context.Background()
	from := time.Date(2024, time.May, 1, 0, 0, 30, 0, time.UTC)
	to := from.Add(6 * time.Hour)

	a, err := p.FetchCandles(ctx, "SYNUSD", candle.H1, from, to)
	require.NoError(t, err)
	b, err := p.FetchCandles(ctx, "synusd", candle.H1, from, to)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 6)
	assert.Equal(t, time.Date(2024, time.May, 1, 1, 0, 0, 0, time.UTC).UnixMilli(), a[0].Time)
	for _, c := range a {
		assert.True(t, c.Valid())
		assert.GreaterOrEqual(t, c.High, c.Low)
	}

	other, err := p.FetchCandles(ctx, "syneur", candle.H1, from, to)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Open, other[0].Open)
}

func TestTicksAggregate(t *testing.T) {
	p := NewProvider("syn", nil)
	from := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	ticks, err := p.FetchTicks(context.Background(), "synusd", from, from.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, ticks, 40)

	minutes := candle.FromTicks(ticks, 1)
	assert.Len(t, minutes, 10)
}

func TestUnknownSymbol(t *testing.T) {
	p := NewProvider("syn", nil)
	_, err := p.FetchTicks(context.Background(), "eurusd", time.Now(), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
	assert.True(t, p.ImportEnabled())
}
