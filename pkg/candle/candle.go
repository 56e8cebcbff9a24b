package candle

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Candle is one OHLCV bucket. Time is the bucket start in Unix epoch milliseconds (UTC).
type Candle struct {
	Time   int64   `json:"time" msgpack:"t"`
	Open   float64 `json:"open" msgpack:"o"`
	High   float64 `json:"high" msgpack:"h"`
	Low    float64 `json:"low" msgpack:"l"`
	Close  float64 `json:"close" msgpack:"c"`
	Volume float64 `json:"volume" msgpack:"v"`
}

// Valid reports whether the candle carries a timestamp and finite prices.
func (c Candle) Valid() bool {
	if c.Time <= 0 {
		return false
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Tick is a raw quote. Any of the price and volume fields may be absent.
type Tick struct {
	Timestamp int64    `json:"timestamp"`
	BidPrice  *float64 `json:"bidPrice,omitempty"`
	AskPrice  *float64 `json:"askPrice,omitempty"`
	MidPrice  *float64 `json:"midPrice,omitempty"`
	BidVolume *float64 `json:"bidVolume,omitempty"`
	AskVolume *float64 `json:"askVolume,omitempty"`
}

// Range is an inclusive [Start, End] span in epoch milliseconds.
type Range struct {
	Start int64 `json:"start" msgpack:"s"`
	End   int64 `json:"end" msgpack:"e"`
}

// Empty reports whether the range has never been set.
func (r Range) Empty() bool {
	return r.Start == 0 && r.End == 0
}

// Contains reports whether ts falls inside the range.
func (r Range) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// Union returns the smallest range covering r and other. Empty ranges are ignored.
func (r Range) Union(other Range) Range {
	switch {
	case r.Empty():
		return other
	case other.Empty():
		return r
	}
	out := r
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}

// Timeframe identifies a candle resolution.
type Timeframe string

const (
	M1  Timeframe = "m1"
	M5  Timeframe = "m5"
	M15 Timeframe = "m15"
	M30 Timeframe = "m30"
	H1  Timeframe = "h1"
	H4  Timeframe = "h4"
	D1  Timeframe = "d1"
)

var timeframeMinutes = map[Timeframe]int{
	M1:  1,
	M5:  5,
	M15: 15,
	M30: 30,
	H1:  60,
	H4:  240,
	D1:  1440,
}

// All returns every supported timeframe ordered from finest to coarsest.
func All() []Timeframe {
	return []Timeframe{M1, M5, M15, M30, H1, H4, D1}
}

// ParseTimeframe accepts identifiers case-insensitively ("M5", "h1").
func ParseTimeframe(raw string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", fmt.Errorf("candle: unknown timeframe %q", raw)
	}
	return tf, nil
}

// Minutes returns the bucket size in minutes, 0 for unknown timeframes.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

// Duration returns the bucket size.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// Intraday reports whether the timeframe is finer than a day.
func (tf Timeframe) Intraday() bool {
	m := tf.Minutes()
	return m > 0 && m < 1440
}

func (tf Timeframe) String() string {
	return string(tf)
}

// Times returns the timestamps of the supplied candles.
func Times(candles []Candle) []int64 {
	out := make([]int64, len(candles))
	for i, c := range candles {
		out[i] = c.Time
	}
	return out
}

// SortByTime orders candles ascending by time, keeping input order for equal times.
func SortByTime(candles []Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time < candles[j].Time
	})
}

// Dedup sorts candles and keeps the last occurrence of every timestamp.
func Dedup(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	SortByTime(candles)
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Time == c.Time {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Span returns the time range covered by an ascending candle slice.
func Span(candles []Candle) Range {
	if len(candles) == 0 {
		return Range{}
	}
	return Range{Start: candles[0].Time, End: candles[len(candles)-1].Time}
}

// Summary is the aggregate extent of a series.
type Summary struct {
	Range Range `json:"range" msgpack:"r"`
	Count int64 `json:"count" msgpack:"n"`
}
