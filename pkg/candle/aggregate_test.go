package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// tenTicks returns one tick per minute starting at 2024-01-02 00:00 UTC with mid prices 100..109.
func tenTicks() []Tick {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	ticks := make([]Tick, 10)
	for i := range ticks {
		ticks[i] = Tick{
			Timestamp: base + int64(i)*60_000,
			MidPrice:  ptr(100 + float64(i)),
			AskVolume: ptr(1.5),
		}
	}
	return ticks
}

func TestFromTicksMinuteBuckets(t *testing.T) {
	candles := FromTicks(tenTicks(), M1.Minutes())
	require.Len(t, candles, 10)
	require.InDelta(t, 100.0, candles[0].Open, 1e-9)
	require.InDelta(t, 109.0, candles[9].Close, 1e-9)
	for i := 1; i < len(candles); i++ {
		require.Greater(t, candles[i].Time, candles[i-1].Time)
	}
}

func TestFromTicksCoarserBuckets(t *testing.T) {
	m5 := FromTicks(tenTicks(), M5.Minutes())
	require.Len(t, m5, 2)
	require.InDelta(t, 100.0, m5[0].Open, 1e-9)
	require.InDelta(t, 104.0, m5[0].Close, 1e-9)
	require.InDelta(t, 105.0, m5[1].Open, 1e-9)
	require.InDelta(t, 109.0, m5[1].Close, 1e-9)
	require.InDelta(t, 7.5, m5[0].Volume, 1e-9)

	h1 := FromTicks(tenTicks(), H1.Minutes())
	require.Len(t, h1, 1)
	require.InDelta(t, 100.0, h1[0].Open, 1e-9)
	require.InDelta(t, 109.0, h1[0].Close, 1e-9)
	require.InDelta(t, 109.0, h1[0].High, 1e-9)
	require.InDelta(t, 100.0, h1[0].Low, 1e-9)
}

func TestResampleMatchesTickAggregation(t *testing.T) {
	m1 := FromTicks(tenTicks(), 1)
	require.Equal(t, FromTicks(tenTicks(), 5), Resample(m1, 5))
	require.Equal(t, FromTicks(tenTicks(), 60), Resample(m1, 60))
}

func TestFromTicksPriceResolution(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	ticks := []Tick{
		{Timestamp: ts, BidPrice: ptr(1.0), AskPrice: ptr(1.2)},
		{Timestamp: ts + 1, BidPrice: ptr(1.4)},
		{Timestamp: ts + 2, AskPrice: ptr(1.6), BidVolume: ptr(2)},
		{Timestamp: ts + 3},
		{Timestamp: ts + 4, MidPrice: ptr(1.3), BidPrice: ptr(9), AskPrice: ptr(9)},
	}
	candles := FromTicks(ticks, 1)
	require.Len(t, candles, 1)
	c := candles[0]
	require.InDelta(t, 1.1, c.Open, 1e-9)
	require.InDelta(t, 1.6, c.High, 1e-9)
	require.InDelta(t, 1.1, c.Low, 1e-9)
	require.InDelta(t, 1.3, c.Close, 1e-9)
	require.InDelta(t, 2.0, c.Volume, 1e-9)
}

func TestFromTicksUnorderedInputIsDeterministic(t *testing.T) {
	ticks := tenTicks()
	reversed := make([]Tick, len(ticks))
	for i := range ticks {
		reversed[len(ticks)-1-i] = ticks[i]
	}
	require.Equal(t, FromTicks(ticks, 5), FromTicks(reversed, 5))
}

func TestVolumeRounding(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	ticks := []Tick{
		{Timestamp: ts, MidPrice: ptr(1), AskVolume: ptr(0.1234564)},
		{Timestamp: ts + 10, MidPrice: ptr(1), AskVolume: ptr(0.0000004)},
	}
	candles := FromTicks(ticks, 1)
	require.Len(t, candles, 1)
	require.Equal(t, 0.123457, candles[0].Volume)
}

func TestResampleSkipsMalformed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	candles := []Candle{
		{Time: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Time: 0, Open: 9, High: 9, Low: 9, Close: 9},
		{Time: base + 60_000, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 2},
	}
	out := Resample(candles, 5)
	require.Len(t, out, 1)
	require.Equal(t, Candle{Time: base, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 3}, out[0])
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" H4 ")
	require.NoError(t, err)
	require.Equal(t, H4, tf)
	require.Equal(t, 240, tf.Minutes())
	require.True(t, tf.Intraday())
	require.False(t, D1.Intraday())

	_, err = ParseTimeframe("w1")
	require.Error(t, err)
}

func TestDedupLastWriteWins(t *testing.T) {
	out := Dedup([]Candle{
		{Time: 2, Close: 1},
		{Time: 1, Close: 1},
		{Time: 2, Close: 7},
	})
	require.Equal(t, []Candle{{Time: 1, Close: 1}, {Time: 2, Close: 7}}, out)
}
