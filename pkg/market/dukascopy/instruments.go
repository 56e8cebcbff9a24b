package dukascopy

import (
	"sort"
	"strings"
	"time"

	"chartlab-api/pkg/market"
)

func since(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

var catalogue = map[string]market.Instrument{
	"eurusd": {Symbol: "eurusd", Description: "Euro vs US Dollar", Decimals: 5, Since: since(2003, time.May, 4)},
	"gbpusd": {Symbol: "gbpusd", Description: "British Pound vs US Dollar", Decimals: 5, Since: since(2003, time.May, 4)},
	"audusd": {Symbol: "audusd", Description: "Australian Dollar vs US Dollar", Decimals: 5, Since: since(2003, time.August, 3)},
	"usdchf": {Symbol: "usdchf", Description: "US Dollar vs Swiss Franc", Decimals: 5, Since: since(2003, time.May, 4)},
	"usdcad": {Symbol: "usdcad", Description: "US Dollar vs Canadian Dollar", Decimals: 5, Since: since(2003, time.August, 3)},
	"nzdusd": {Symbol: "nzdusd", Description: "New Zealand Dollar vs US Dollar", Decimals: 5, Since: since(2003, time.August, 3)},
	"eurgbp": {Symbol: "eurgbp", Description: "Euro vs British Pound", Decimals: 5, Since: since(2003, time.May, 4)},
	"usdjpy": {Symbol: "usdjpy", Description: "US Dollar vs Japanese Yen", Decimals: 3, Since: since(2003, time.May, 4)},
	"eurjpy": {Symbol: "eurjpy", Description: "Euro vs Japanese Yen", Decimals: 3, Since: since(2003, time.August, 3)},
	"gbpjpy": {Symbol: "gbpjpy", Description: "British Pound vs Japanese Yen", Decimals: 3, Since: since(2003, time.August, 3)},
	"xauusd": {Symbol: "xauusd", Description: "Gold vs US Dollar", Decimals: 3, Since: since(2003, time.May, 5)},
	"xagusd": {Symbol: "xagusd", Description: "Silver vs US Dollar", Decimals: 3, Since: since(2003, time.May, 5)},
}

// Instruments returns the built-in catalogue sorted by symbol.
func Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(catalogue))
	for _, inst := range catalogue {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Lookup finds an instrument case-insensitively.
func Lookup(symbol string) (market.Instrument, bool) {
	inst, ok := catalogue[strings.ToLower(strings.TrimSpace(symbol))]
	return inst, ok
}
