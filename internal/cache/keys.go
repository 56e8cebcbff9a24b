package cache

import (
	"strconv"
	"strings"
	"time"

	"chartlab-api/internal/config"
	"chartlab-api/pkg/candle"
)

// Namespace is the Redis key prefix for the application.
const Namespace = "chartlab"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// VersionKey holds the write generation of a series. Bumping it orphans every
// cached window of that series.
func VersionKey(asset string, tf candle.Timeframe) string {
	return formatKey("version", asset, string(tf))
}

// WindowKey caches one resolved window. to is 0 for "latest".
func WindowKey(asset string, tf candle.Timeframe, version int64, to int64, limit int) string {
	return formatKey("window", asset, string(tf), "v"+strconv.FormatInt(version, 10),
		strconv.FormatInt(to, 10), strconv.Itoa(limit))
}

// SummaryKey caches the range/count of a series.
func SummaryKey(asset string, tf candle.Timeframe, version int64) string {
	return formatKey("summary", asset, string(tf), "v"+strconv.FormatInt(version, 10))
}

// WindowTTL applies to windows pinned to an explicit end time.
func WindowTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// LatestWindowTTL applies to "latest" windows, which move as imports land.
func LatestWindowTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// SummaryTTL returns the TTL for series summaries.
func SummaryTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}
