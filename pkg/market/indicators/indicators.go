// Package indicators implements the built-in technical indicators. Every
// function returns a slice aligned to its input with NaN during warm-up.
package indicators

import (
	"math"

	"chartlab-api/pkg/candle"
)

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA produces the simple moving average. Windows containing NaN stay NaN.
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	result := nanSlice(len(prices))
	var (
		sum   float64
		valid int
	)
	for i, p := range prices {
		if !math.IsNaN(p) {
			sum += p
			valid++
		}
		if i >= period {
			if old := prices[i-period]; !math.IsNaN(old) {
				sum -= old
				valid--
			}
		}
		if i >= period-1 && valid == period {
			result[i] = sum / float64(period)
		}
	}
	return result
}

// EMA produces the exponential moving average seeded with the first full SMA window.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	result := nanSlice(len(prices))
	if len(prices) < period {
		return result
	}
	multiplier := 2.0 / float64(period+1)

	seedAt := -1
	for i, v := range SMA(prices, period) {
		if !math.IsNaN(v) {
			seedAt = i
			result[i] = v
			break
		}
	}
	if seedAt == -1 {
		return result
	}
	for i := seedAt + 1; i < len(prices); i++ {
		prev := result[i-1]
		if math.IsNaN(prices[i]) {
			result[i] = prev
			continue
		}
		result[i] = (prices[i]-prev)*multiplier + prev
	}
	return result
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(prices []float64, fast, slow, signalPeriod int) ([]float64, []float64, []float64) {
	if len(prices) == 0 {
		return []float64{}, []float64{}, []float64{}
	}
	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)

	line := nanSlice(len(prices))
	for i := range prices {
		if i < len(emaFast) && i < len(emaSlow) && !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}

	signal := EMA(line, signalPeriod)
	hist := nanSlice(len(prices))
	for i := range hist {
		if i < len(signal) && !math.IsNaN(line[i]) && !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return line, signal, hist
}

// RSI computes Wilder's Relative Strength Index.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	rsi := nanSlice(len(prices))
	if len(prices) <= period {
		return rsi
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum -= change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	rsi[period] = strength(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		avgGain = (avgGain*float64(period-1) + math.Max(change, 0)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + math.Max(-change, 0)) / float64(period)
		rsi[i] = strength(avgGain, avgLoss)
	}
	return rsi
}

func strength(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50.0
	case avgLoss == 0:
		return 100.0
	case avgGain == 0:
		return 0.0
	default:
		return 100.0 - (100.0 / (1.0 + avgGain/avgLoss))
	}
}

// ATR computes the Average True Range, smoothed with an EMA.
func ATR(candles []candle.Candle, period int) []float64 {
	if period <= 0 || len(candles) == 0 {
		return []float64{}
	}
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return EMA(tr, period)
}

// Bollinger returns the middle, upper and lower bands at k standard deviations.
func Bollinger(prices []float64, period int, k float64) ([]float64, []float64, []float64) {
	mid := SMA(prices, period)
	upper, lower := nanSlice(len(mid)), nanSlice(len(mid))
	for i, m := range mid {
		if math.IsNaN(m) {
			continue
		}
		var variance float64
		for _, p := range prices[i-period+1 : i+1] {
			variance += (p - m) * (p - m)
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i], lower[i] = m+k*sd, m-k*sd
	}
	return mid, upper, lower
}

// Closes extracts close prices.
func Closes(candles []candle.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Warmup returns the number of leading NaN values.
func Warmup(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(values)
}
