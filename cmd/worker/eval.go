package main

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/indicator"
	"chartlab-api/pkg/market/indicators"
)

// Script is the definition file of a built-in indicator.
type Script struct {
	Kind   string  `yaml:"kind"`
	Period int     `yaml:"period"`
	Fast   int     `yaml:"fast"`
	Slow   int     `yaml:"slow"`
	Signal int     `yaml:"signal"`
	K      float64 `yaml:"k"`
	Source string  `yaml:"source"`
	Color  string  `yaml:"color"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	return &s, nil
}

// applySettings overlays request settings on the script defaults.
func (s *Script) applySettings(settings map[string]any) error {
	for key, raw := range settings {
		switch key {
		case "period", "fast", "slow", "signal":
			v, ok := raw.(float64)
			if !ok || v != math.Trunc(v) || v <= 0 || v > 10_000 {
				return inputError("setting %q must be a positive integer", key)
			}
			n := int(v)
			switch key {
			case "period":
				s.Period = n
			case "fast":
				s.Fast = n
			case "slow":
				s.Slow = n
			default:
				s.Signal = n
			}
		case "k":
			v, ok := raw.(float64)
			if !ok || v <= 0 {
				return inputError("setting \"k\" must be positive")
			}
			s.K = v
		case "source":
			v, ok := raw.(string)
			if !ok {
				return inputError("setting \"source\" must be a string")
			}
			s.Source = v
		}
	}
	return nil
}

type evalError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *evalError) Error() string { return e.Message }

func inputError(format string, args ...any) error {
	return &evalError{Type: "InputError", Message: fmt.Sprintf(format, args...)}
}

// response mirrors the worker side of the protocol.
type response struct {
	OK      bool                  `json:"ok"`
	Series  map[string][]*float64 `json:"series,omitempty"`
	Markers []marker              `json:"markers,omitempty"`
	Levels  []level               `json:"levels,omitempty"`
	Meta    map[string]any        `json:"meta,omitempty"`
	Error   *evalError            `json:"error,omitempty"`
}

type marker struct {
	Index    int    `json:"index"`
	Position string `json:"position"`
	Shape    string `json:"shape"`
	Color    string `json:"color,omitempty"`
	Text     string `json:"text"`
}

type level struct {
	Price float64 `json:"price"`
	Label string  `json:"label"`
	Style string  `json:"style,omitempty"`
}

func source(in indicator.Inputs, name string) ([]float64, error) {
	switch strings.ToLower(name) {
	case "", "close":
		return in.Close, nil
	case "open":
		return in.Open, nil
	case "high":
		return in.High, nil
	case "low":
		return in.Low, nil
	case "hl2":
		out := make([]float64, len(in.High))
		for i := range out {
			out[i] = (in.High[i] + in.Low[i]) / 2
		}
		return out, nil
	}
	return nil, inputError("unknown source %q", name)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// nullable turns warm-up NaNs into JSON nulls.
func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if !math.IsNaN(values[i]) && !math.IsInf(values[i], 0) {
			v := values[i]
			out[i] = &v
		}
	}
	return out
}

func evaluate(s *Script, req indicator.Request) (*response, error) {
	if err := s.applySettings(req.Settings); err != nil {
		return nil, err
	}
	in := req.Inputs
	if len(in.Close) == 0 {
		return nil, inputError("inputs are empty")
	}
	n := len(in.Close)
	if len(in.Open) != n || len(in.High) != n || len(in.Low) != n {
		return nil, inputError("input columns differ in length")
	}
	src, err := source(in, s.Source)
	if err != nil {
		return nil, err
	}

	resp := &response{OK: true, Series: map[string][]*float64{}, Meta: map[string]any{"kind": s.Kind}}
	switch s.Kind {
	case "sma":
		period := orDefault(s.Period, 20)
		resp.Series[fmt.Sprintf("sma%d", period)] = nullable(indicators.SMA(src, period))
	case "ema":
		period := orDefault(s.Period, 20)
		resp.Series[fmt.Sprintf("ema%d", period)] = nullable(indicators.EMA(src, period))
	case "rsi":
		period := orDefault(s.Period, 14)
		resp.Series[fmt.Sprintf("rsi%d", period)] = nullable(indicators.RSI(src, period))
		resp.Levels = []level{{Price: 70, Label: "overbought", Style: "dashed"}, {Price: 30, Label: "oversold", Style: "dashed"}}
	case "macd":
		line, signal, hist := indicators.MACD(src, orDefault(s.Fast, 12), orDefault(s.Slow, 26), orDefault(s.Signal, 9))
		resp.Series["macd"] = nullable(line)
		resp.Series["signal"] = nullable(signal)
		resp.Series["histogram"] = nullable(hist)
		resp.Markers = crossovers(line, signal)
	case "atr":
		period := orDefault(s.Period, 14)
		resp.Series[fmt.Sprintf("atr%d", period)] = nullable(indicators.ATR(toCandles(in), period))
	case "bollinger":
		period := orDefault(s.Period, 20)
		k := s.K
		if k <= 0 {
			k = 2
		}
		mid, upper, lower := indicators.Bollinger(src, period, k)
		resp.Series["middle"] = nullable(mid)
		resp.Series["upper"] = nullable(upper)
		resp.Series["lower"] = nullable(lower)
	default:
		return nil, inputError("unknown indicator kind %q", s.Kind)
	}
	return resp, nil
}

// crossovers marks where the MACD line crosses its signal line.
func crossovers(line, signal []float64) []marker {
	var out []marker
	for i := 1; i < len(line); i++ {
		prev, cur := line[i-1]-signal[i-1], line[i]-signal[i]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		switch {
		case prev <= 0 && cur > 0:
			out = append(out, marker{Index: i, Position: "belowBar", Shape: "arrowUp", Color: "#26a69a", Text: "bull"})
		case prev >= 0 && cur < 0:
			out = append(out, marker{Index: i, Position: "aboveBar", Shape: "arrowDown", Color: "#ef5350", Text: "bear"})
		}
	}
	return out
}

func toCandles(in indicator.Inputs) []candle.Candle {
	out := make([]candle.Candle, len(in.Close))
	for i := range out {
		out[i] = candle.Candle{Open: in.Open[i], High: in.High[i], Low: in.Low[i], Close: in.Close[i]}
		if i < len(in.Time) {
			out[i].Time = in.Time[i]
		}
	}
	return out
}
