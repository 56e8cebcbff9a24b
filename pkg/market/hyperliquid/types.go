package hyperliquid

// infoRequest is the body of every POST to the info endpoint.
type infoRequest struct {
	Type string                 `json:"type"`
	Req  *candleSnapshotRequest `json:"req,omitempty"`
}

type candleSnapshotRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// candleResponse mirrors the candleSnapshot payload. Prices and volume are decimal strings.
type candleResponse []struct {
	T      int64   `json:"t"` // open time (ms)
	TClose int64   `json:"T"` // close time (ms)
	S      string  `json:"s"`
	I      string  `json:"i"`
	O      float64 `json:"o,string"`
	C      float64 `json:"c,string"`
	H      float64 `json:"h,string"`
	L      float64 `json:"l,string"`
	V      float64 `json:"v,string"`
	N      int     `json:"n"`
}
