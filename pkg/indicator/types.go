package indicator

import (
	"encoding/json"

	"chartlab-api/pkg/apperr"
)

// APIVersion is sent with every worker request.
const APIVersion = 1

// Request is written to the worker's stdin.
type Request struct {
	APIVersion int            `json:"apiVersion"`
	Inputs     Inputs         `json:"inputs"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// Inputs carries the candle window column by column.
type Inputs struct {
	Time   []int64   `json:"time"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
}

// Point is one timestamped value.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Marker annotates a single candle.
type Marker struct {
	Time     int64    `json:"time"`
	Position string   `json:"position,omitempty"`
	Shape    string   `json:"shape,omitempty"`
	Color    string   `json:"color,omitempty"`
	Text     string   `json:"text,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// Level is a horizontal price line, optionally anchored at a start time.
type Level struct {
	Price float64 `json:"price"`
	Time  int64   `json:"time,omitempty"`
	Label string  `json:"label,omitempty"`
	Color string  `json:"color,omitempty"`
	Style string  `json:"style,omitempty"`
}

// Plot kinds.
const (
	PlotLine    = "line"
	PlotMarkers = "markers"
	PlotLevel   = "level"
)

// Plot is the uniform drawable unit handed to chart clients.
type Plot struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Color   string   `json:"color,omitempty"`
	Data    []Point  `json:"data,omitempty"`
	Markers []Marker `json:"markers,omitempty"`
	Level   *Level   `json:"level,omitempty"`
}

// Result is the normalized outcome of one run. When OK is false only Error is set.
type Result struct {
	OK      bool               `json:"ok"`
	Series  map[string][]Point `json:"series,omitempty"`
	Markers []Marker           `json:"markers,omitempty"`
	Levels  []Level            `json:"levels,omitempty"`
	Plots   []Plot             `json:"plots,omitempty"`
	Meta    map[string]any     `json:"meta,omitempty"`
	Error   *apperr.Detail     `json:"error,omitempty"`
}

// Err converts a failed result into an *apperr.Error, nil on success.
func (r *Result) Err() error {
	if r == nil || r.OK || r.Error == nil {
		return nil
	}
	return &apperr.Error{Kind: r.Error.Type, Message: r.Error.Message}
}

func failure(kind apperr.Kind, format string, args ...any) *Result {
	e := apperr.New(kind, format, args...)
	return &Result{Error: &apperr.Detail{Type: e.Kind, Message: e.Message}}
}

// workerResponse is the worker's stdout document before normalization.
type workerResponse struct {
	OK      *bool                      `json:"ok"`
	Series  map[string]json.RawMessage `json:"series"`
	Markers []rawAnchor                `json:"markers"`
	Levels  []rawAnchor                `json:"levels"`
	Plots   []rawPlot                  `json:"plots"`
	Meta    map[string]any             `json:"meta"`
	Error   json.RawMessage            `json:"error"`
}

// rawAnchor is a marker or level that references a candle by time or index.
type rawAnchor struct {
	Time     *int64   `json:"time"`
	Index    *int     `json:"index"`
	Position string   `json:"position"`
	Shape    string   `json:"shape"`
	Color    string   `json:"color"`
	Text     string   `json:"text"`
	Label    string   `json:"label"`
	Style    string   `json:"style"`
	Price    *float64 `json:"price"`
}

type rawPlot struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Color   string          `json:"color"`
	Data    json.RawMessage `json:"data"`
	Markers []rawAnchor     `json:"markers"`
	Level   *rawAnchor      `json:"level"`
}

type workerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
