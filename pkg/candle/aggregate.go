package candle

import (
	"math"
	"sort"
)

const volumeScale = 1e6

// FromTicks buckets ticks into candles of the given size in minutes.
// Price is taken from the mid, then the bid/ask mean, then whichever side is
// present. Ticks without any price are dropped. Volume sums the ask volume,
// falling back to the bid volume, and is rounded to six decimals.
func FromTicks(ticks []Tick, minutes int) []Candle {
	if minutes <= 0 || len(ticks) == 0 {
		return nil
	}
	ordered := make([]Tick, len(ticks))
	copy(ordered, ticks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	bucketMs := int64(minutes) * 60_000
	var (
		out     []Candle
		current *Candle
	)
	for _, tick := range ordered {
		price, ok := tickPrice(tick)
		if !ok || tick.Timestamp <= 0 {
			continue
		}
		bucket := floorBucket(tick.Timestamp, bucketMs)
		if current == nil || current.Time != bucket {
			if current != nil {
				current.Volume = roundVolume(current.Volume)
				out = append(out, *current)
			}
			current = &Candle{Time: bucket, Open: price, High: price, Low: price, Close: price}
		}
		current.High = math.Max(current.High, price)
		current.Low = math.Min(current.Low, price)
		current.Close = price
		current.Volume += tickVolume(tick)
	}
	if current != nil {
		current.Volume = roundVolume(current.Volume)
		out = append(out, *current)
	}
	return out
}

// Resample aggregates candles into coarser buckets of the given size in minutes.
// Each bucket takes the first open, last close, max high, min low and summed volume.
func Resample(candles []Candle, minutes int) []Candle {
	if minutes <= 0 || len(candles) == 0 {
		return nil
	}
	ordered := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			ordered = append(ordered, c)
		}
	}
	SortByTime(ordered)

	bucketMs := int64(minutes) * 60_000
	var (
		out     []Candle
		current *Candle
	)
	for _, c := range ordered {
		bucket := floorBucket(c.Time, bucketMs)
		if current == nil || current.Time != bucket {
			if current != nil {
				current.Volume = roundVolume(current.Volume)
				out = append(out, *current)
			}
			current = &Candle{Time: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
		}
		current.High = math.Max(current.High, c.High)
		current.Low = math.Min(current.Low, c.Low)
		current.Close = c.Close
		current.Volume += c.Volume
	}
	if current != nil {
		current.Volume = roundVolume(current.Volume)
		out = append(out, *current)
	}
	return out
}

// Convert derives candles for target from an existing series at resolution source.
// It returns the input unchanged when both resolutions match.
func Convert(candles []Candle, source, target Timeframe) []Candle {
	if source == target {
		return candles
	}
	return Resample(candles, target.Minutes())
}

func floorBucket(ts, bucketMs int64) int64 {
	return (ts / bucketMs) * bucketMs
}

func tickPrice(t Tick) (float64, bool) {
	if finite(t.MidPrice) {
		return *t.MidPrice, true
	}
	bid, ask := finite(t.BidPrice), finite(t.AskPrice)
	switch {
	case bid && ask:
		return (*t.BidPrice + *t.AskPrice) / 2, true
	case bid:
		return *t.BidPrice, true
	case ask:
		return *t.AskPrice, true
	}
	return 0, false
}

func tickVolume(t Tick) float64 {
	if finite(t.AskVolume) {
		return *t.AskVolume
	}
	if finite(t.BidVolume) {
		return *t.BidVolume
	}
	return 0
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func roundVolume(v float64) float64 {
	return math.Round(v*volumeScale) / volumeScale
}
