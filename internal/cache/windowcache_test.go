package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis/redistest"

	"chartlab-api/internal/config"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "chartlab:version:eurusd:h1", VersionKey("eurusd", candle.H1))
	assert.Equal(t, "chartlab:window:eurusd:h1:v3:0:500", WindowKey("eurusd", candle.H1, 3, 0, 500))
	assert.Equal(t, "chartlab:summary:eurusd:d1:v0", SummaryKey("eurusd", candle.D1, 0))
}

func TestNewTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 0, Medium: 30, Long: -1})
	assert.Equal(t, 10*time.Second, ttl.Short)
	assert.Equal(t, 30*time.Second, ttl.Medium)
	assert.Equal(t, time.Duration(0), ttl.Long)
}

func TestWindowCacheRoundTripAndInvalidate(t *testing.T) {
	rds := redistest.CreateRedis(t)
	c := NewWindowCache(rds, NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300}))
	ctx := context.Background()
	q := market.Query{Asset: "eurusd", Timeframe: candle.H1, Limit: 2}
	bars := []candle.Candle{
		{Time: 1_700_000_000_000, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 3},
		{Time: 1_700_003_600_000, Open: 1.15, High: 1.25, Low: 1.1, Close: 1.2, Volume: 4},
	}

	_, ok := c.GetWindow(ctx, q)
	assert.False(t, ok)

	c.SetWindow(ctx, q, bars)
	got, ok := c.GetWindow(ctx, q)
	require.True(t, ok)
	assert.Equal(t, bars, got)

	c.SetSummary(ctx, "eurusd", candle.H1, &candle.Summary{Range: candle.Span(bars), Count: 2})
	s, ok := c.GetSummary(ctx, "eurusd", candle.H1)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Count)

	c.Invalidate(ctx, "eurusd", candle.H1)
	_, ok = c.GetWindow(ctx, q)
	assert.False(t, ok)
	_, ok = c.GetSummary(ctx, "eurusd", candle.H1)
	assert.False(t, ok)
}
