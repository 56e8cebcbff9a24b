package types

import (
	"chartlab-api/internal/jobs"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/indicator"
)

type WindowRequest struct {
	Asset     string `path:"asset"`
	Timeframe string `path:"timeframe"`
	To        int64  `form:"to,optional"`
	Limit     int    `form:"limit,optional"`
}

type WindowResponse struct {
	Asset     string          `json:"asset"`
	Timeframe string          `json:"timeframe"`
	Source    string          `json:"source"`
	Count     int             `json:"count"`
	Candles   []candle.Candle `json:"candles"`
}

type SummaryRequest struct {
	Asset     string `path:"asset"`
	Timeframe string `path:"timeframe"`
}

type SummaryResponse struct {
	Asset     string       `json:"asset"`
	Timeframe string       `json:"timeframe"`
	Source    string       `json:"source"`
	Range     candle.Range `json:"range"`
	Count     int64        `json:"count"`
}

type ResetRequest struct {
	Asset string `path:"asset"`
}

type ResetResponse struct {
	OK    bool   `json:"ok"`
	Asset string `json:"asset"`
}

type ImportRequest struct {
	Provider    string `path:"provider"`
	Asset       string `json:"asset"`
	Timeframe   string `json:"timeframe,optional"`
	StartDate   string `json:"startDate,optional"`
	EndDate     string `json:"endDate,optional"`
	FullHistory bool   `json:"fullHistory,optional"`
}

type JobRequest struct {
	ID string `path:"id"`
}

type JobListResponse struct {
	BootEpoch string      `json:"bootEpoch"`
	Jobs      []*jobs.Job `json:"jobs"`
}

type InstrumentsRequest struct {
	Provider string `path:"provider"`
}

type InstrumentItem struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Decimals    int    `json:"decimals"`
	Since       string `json:"since"`
}

type InstrumentsResponse struct {
	Provider      string           `json:"provider"`
	ImportEnabled bool             `json:"importEnabled"`
	Instruments   []InstrumentItem `json:"instruments"`
}

// IndicatorRunRequest carries either an explicit candle window or a stored
// series reference (asset, timeframe, to, limit).
type IndicatorRunRequest struct {
	ID        string          `json:"-"`
	Candles   []candle.Candle `json:"candles"`
	Settings  map[string]any  `json:"settings"`
	Asset     string          `json:"asset"`
	Timeframe string          `json:"timeframe"`
	To        int64           `json:"to"`
	Limit     int             `json:"limit"`
}

type Overlay struct {
	Markers []indicator.Marker `json:"markers"`
	Levels  []indicator.Level  `json:"levels"`
	Plots   []indicator.Plot   `json:"plots"`
}

type IndicatorRunResponse struct {
	OK      bool                         `json:"ok"`
	Series  map[string][]indicator.Point `json:"series"`
	Overlay Overlay                      `json:"overlay"`
	Meta    map[string]any               `json:"meta,omitempty"`
}
