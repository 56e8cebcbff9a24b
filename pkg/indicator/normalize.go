package indicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"chartlab-api/pkg/candle"
)

// normalize maps a successful worker response onto the candle window.
func normalize(resp *workerResponse, candles []candle.Candle) (*Result, error) {
	times := candle.Times(candles)
	out := &Result{OK: true, Series: map[string][]Point{}, Meta: resp.Meta}

	for name, raw := range resp.Series {
		points, err := alignSeries(raw, times)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", name, err)
		}
		out.Series[name] = points
	}
	for _, m := range resp.Markers {
		if marker, ok := resolveMarker(m, times); ok {
			out.Markers = append(out.Markers, marker)
		}
	}
	for _, l := range resp.Levels {
		if level, ok := resolveLevel(l, times); ok {
			out.Levels = append(out.Levels, level)
		}
	}

	if len(resp.Plots) > 0 {
		for i, p := range resp.Plots {
			plot, err := normalizePlot(p, i, times)
			if err != nil {
				return nil, err
			}
			out.Plots = append(out.Plots, plot)
		}
	} else {
		out.Plots = synthesizePlots(out)
	}
	return out, nil
}

// alignSeries decodes either a bare numeric array, right-aligned to the
// window, or an array of {time, value} points, which passes through.
func alignSeries(raw json.RawMessage, times []int64) ([]Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Point{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected an array: %w", err)
	}

	if timestamped(items) {
		out := make([]Point, 0, len(items))
		for _, item := range items {
			var p struct {
				Time  *int64   `json:"time"`
				Value *float64 `json:"value"`
			}
			if err := json.Unmarshal(item, &p); err != nil {
				return nil, fmt.Errorf("decode point: %w", err)
			}
			if p.Time == nil || p.Value == nil || !finite(*p.Value) {
				continue
			}
			out = append(out, Point{Time: *p.Time, Value: *p.Value})
		}
		return out, nil
	}

	values := make([]*float64, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &values[i]); err != nil {
			return nil, fmt.Errorf("decode value %d: %w", i, err)
		}
	}
	return RightAlign(values, times), nil
}

func timestamped(items []json.RawMessage) bool {
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || bytes.Equal(item, []byte("null")) {
			continue
		}
		return item[0] == '{'
	}
	return false
}

// RightAlign pairs values with the most recent candles: N values over M
// candles start at candle M-N. When N > M only the last M values are kept.
// Nil and non-finite values are skipped.
func RightAlign(values []*float64, times []int64) []Point {
	if len(values) > len(times) {
		values = values[len(values)-len(times):]
	}
	offset := len(times) - len(values)
	out := make([]Point, 0, len(values))
	for i, v := range values {
		if v == nil || !finite(*v) {
			continue
		}
		out = append(out, Point{Time: times[offset+i], Value: *v})
	}
	return out
}

// anchorTime resolves a candle reference. Explicit times win; indices are
// clamped into the window.
func anchorTime(a rawAnchor, times []int64) (int64, bool) {
	if a.Time != nil {
		return *a.Time, true
	}
	if a.Index == nil || len(times) == 0 {
		return 0, false
	}
	idx := min(max(*a.Index, 0), len(times)-1)
	return times[idx], true
}

func resolveMarker(a rawAnchor, times []int64) (Marker, bool) {
	ts, ok := anchorTime(a, times)
	if !ok {
		return Marker{}, false
	}
	text := a.Text
	if text == "" {
		text = a.Label
	}
	return Marker{Time: ts, Position: a.Position, Shape: a.Shape, Color: a.Color, Text: text, Price: a.Price}, true
}

func resolveLevel(a rawAnchor, times []int64) (Level, bool) {
	if a.Price == nil || !finite(*a.Price) {
		return Level{}, false
	}
	label := a.Label
	if label == "" {
		label = a.Text
	}
	level := Level{Price: *a.Price, Label: label, Color: a.Color, Style: a.Style}
	if ts, ok := anchorTime(a, times); ok {
		level.Time = ts
	}
	return level, true
}

func normalizePlot(p rawPlot, i int, times []int64) (Plot, error) {
	plot := Plot{ID: p.ID, Type: p.Type, Title: p.Title, Color: p.Color}
	if plot.ID == "" {
		plot.ID = fmt.Sprintf("plot-%d", i)
	}
	if len(p.Data) > 0 {
		data, err := alignSeries(p.Data, times)
		if err != nil {
			return Plot{}, fmt.Errorf("plot %q: %w", plot.ID, err)
		}
		plot.Data = data
	}
	for _, m := range p.Markers {
		if marker, ok := resolveMarker(m, times); ok {
			plot.Markers = append(plot.Markers, marker)
		}
	}
	if p.Level != nil {
		if level, ok := resolveLevel(*p.Level, times); ok {
			plot.Level = &level
		}
	}
	if plot.Type == "" {
		switch {
		case plot.Level != nil:
			plot.Type = PlotLevel
		case len(plot.Markers) > 0 && len(plot.Data) == 0:
			plot.Type = PlotMarkers
		default:
			plot.Type = PlotLine
		}
	}
	return plot, nil
}

// synthesizePlots builds the plot list from the legacy series, markers and levels.
func synthesizePlots(r *Result) []Plot {
	names := make([]string, 0, len(r.Series))
	for name := range r.Series {
		names = append(names, name)
	}
	sort.Strings(names)

	plots := make([]Plot, 0, len(names)+len(r.Levels)+1)
	for _, name := range names {
		plots = append(plots, Plot{ID: name, Type: PlotLine, Title: name, Data: r.Series[name]})
	}
	if len(r.Markers) > 0 {
		plots = append(plots, Plot{ID: "markers", Type: PlotMarkers, Markers: r.Markers})
	}
	for i := range r.Levels {
		level := r.Levels[i]
		plots = append(plots, Plot{
			ID:    fmt.Sprintf("level-%d", i),
			Type:  PlotLevel,
			Title: level.Label,
			Color: level.Color,
			Level: &level,
		})
	}
	return plots
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
