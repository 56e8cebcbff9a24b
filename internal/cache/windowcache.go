package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

var _ market.WindowCache = (*WindowCache)(nil)

// WindowCache stores resolved windows in Redis as msgpack blobs. Every key
// embeds the series version, so invalidation is a single INCR.
type WindowCache struct {
	rds *redis.Redis
	ttl TTLSet
}

// NewWindowCache wraps a go-zero Redis client.
func NewWindowCache(rds *redis.Redis, ttl TTLSet) *WindowCache {
	return &WindowCache{rds: rds, ttl: ttl}
}

func (c *WindowCache) version(ctx context.Context, asset string, tf candle.Timeframe) (int64, bool) {
	raw, err := c.rds.GetCtx(ctx, VersionKey(asset, tf))
	if err != nil {
		logx.WithContext(ctx).Errorf("cache: read version asset=%s timeframe=%s: %v", asset, tf, err)
		return 0, false
	}
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *WindowCache) get(ctx context.Context, key string, v any) bool {
	raw, err := c.rds.GetCtx(ctx, key)
	if err != nil {
		logx.WithContext(ctx).Errorf("cache: get %s: %v", key, err)
		return false
	}
	if raw == "" {
		return false
	}
	if err := msgpack.Unmarshal([]byte(raw), v); err != nil {
		logx.WithContext(ctx).Errorf("cache: decode %s: %v", key, err)
		return false
	}
	return true
}

func (c *WindowCache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		return
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		logx.WithContext(ctx).Errorf("cache: encode %s: %v", key, err)
		return
	}
	if err := c.rds.SetexCtx(ctx, key, string(data), seconds); err != nil {
		logx.WithContext(ctx).Errorf("cache: set %s: %v", key, err)
	}
}

func (c *WindowCache) GetWindow(ctx context.Context, q market.Query) ([]candle.Candle, bool) {
	ver, ok := c.version(ctx, q.Asset, q.Timeframe)
	if !ok {
		return nil, false
	}
	var candles []candle.Candle
	if !c.get(ctx, WindowKey(q.Asset, q.Timeframe, ver, q.To, q.Limit), &candles) {
		return nil, false
	}
	return candles, true
}

func (c *WindowCache) SetWindow(ctx context.Context, q market.Query, candles []candle.Candle) {
	ver, ok := c.version(ctx, q.Asset, q.Timeframe)
	if !ok {
		return
	}
	ttl := WindowTTL(c.ttl)
	if q.To == 0 {
		ttl = LatestWindowTTL(c.ttl)
	}
	c.set(ctx, WindowKey(q.Asset, q.Timeframe, ver, q.To, q.Limit), candles, ttl)
}

func (c *WindowCache) GetSummary(ctx context.Context, asset string, tf candle.Timeframe) (*candle.Summary, bool) {
	ver, ok := c.version(ctx, asset, tf)
	if !ok {
		return nil, false
	}
	var s candle.Summary
	if !c.get(ctx, SummaryKey(asset, tf, ver), &s) {
		return nil, false
	}
	return &s, true
}

func (c *WindowCache) SetSummary(ctx context.Context, asset string, tf candle.Timeframe, s *candle.Summary) {
	if s == nil {
		return
	}
	ver, ok := c.version(ctx, asset, tf)
	if !ok {
		return
	}
	c.set(ctx, SummaryKey(asset, tf, ver), s, SummaryTTL(c.ttl))
}

func (c *WindowCache) Invalidate(ctx context.Context, asset string, tf candle.Timeframe) {
	if _, err := c.rds.IncrCtx(ctx, VersionKey(asset, tf)); err != nil {
		logx.WithContext(ctx).Errorf("cache: bump version asset=%s timeframe=%s: %v", asset, tf, err)
	}
}
