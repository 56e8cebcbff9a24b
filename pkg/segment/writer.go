package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/jsonfile"
)

// WriteResult reports the outcome of a merge.
type WriteResult struct {
	Received int   // valid candles in the incoming batch
	Added    int   // growth of the series total count
	Years    []int // segments rewritten
	Meta     *Meta
}

// Writer merges candles into a Store. Writes for the same asset/timeframe are
// serialized; different series proceed independently.
type Writer struct {
	store *Store
	locks syncx.LockedCalls
	now   func() time.Time
}

// NewWriter returns a writer for store.
func NewWriter(store *Store) *Writer {
	return &Writer{
		store: store,
		locks: syncx.NewLockedCalls(),
		now:   time.Now,
	}
}

// Store returns the underlying segment store.
func (w *Writer) Store() *Store {
	return w.store
}

func lockKey(asset string, tf candle.Timeframe) string {
	return asset + "/" + string(tf)
}

// WriteCandles merges candles into the per-year segments of a series. Incoming
// candles overwrite stored ones with the same timestamp. All touched segments
// are written before the metadata, which commits the merge. Running it twice
// with the same batch leaves the same state on disk.
func (w *Writer) WriteCandles(ctx context.Context, asset string, tf candle.Timeframe, candles []candle.Candle) (*WriteResult, error) {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if tf.Minutes() == 0 {
		return nil, fmt.Errorf("segment: unknown timeframe %q", tf)
	}
	v, err := w.locks.Do(lockKey(asset, tf), func() (any, error) {
		return w.merge(ctx, asset, tf, candles)
	})
	if err != nil {
		return nil, err
	}
	return v.(*WriteResult), nil
}

func (w *Writer) merge(ctx context.Context, asset string, tf candle.Timeframe, incoming []candle.Candle) (*WriteResult, error) {
	byYear := make(map[int][]candle.Candle)
	received := 0
	for _, c := range incoming {
		if !c.Valid() {
			continue
		}
		year := time.UnixMilli(c.Time).UTC().Year()
		byYear[year] = append(byYear[year], c)
		received++
	}

	meta, err := w.store.LoadMeta(asset, tf)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &Meta{Asset: asset, Timeframe: tf}
	}
	result := &WriteResult{Received: received, Meta: meta}
	if received == 0 {
		return result, nil
	}
	before := meta.TotalCount

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	now := w.now().UTC()
	entries := make(map[int]Entry, len(meta.Segments)+len(years))
	for _, e := range meta.Segments {
		entries[e.Year] = e
	}
	var written []int
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := w.store.LoadSegment(asset, tf, year)
		if err != nil {
			return nil, err
		}
		var existing []candle.Candle
		if seg != nil {
			existing = seg.Candles
		}
		merged := make([]candle.Candle, 0, len(existing)+len(byYear[year]))
		merged = append(merged, existing...)
		merged = append(merged, byYear[year]...)
		merged = candle.Dedup(merged)
		if seg != nil && slices.Equal(merged, existing) {
			continue
		}

		next := &Segment{
			Asset:       asset,
			Timeframe:   tf,
			Year:        year,
			Range:       candle.Span(merged),
			Candles:     merged,
			LastUpdated: now,
		}
		if err := jsonfile.Write(w.store.SegmentPath(asset, tf, year), next); err != nil {
			return nil, err
		}
		entries[year] = entryFor(next)
		written = append(written, year)
	}
	if len(written) == 0 && jsonfile.Exists(w.store.MetaPath(asset, tf)) {
		return result, nil
	}

	meta.Segments = meta.Segments[:0]
	for _, e := range entries {
		meta.Segments = append(meta.Segments, e)
	}
	sort.Slice(meta.Segments, func(i, j int) bool { return meta.Segments[i].Year < meta.Segments[j].Year })
	meta.TotalCount, meta.Range = summarize(meta.Segments)
	meta.LastUpdated = now
	if err := jsonfile.Write(w.store.MetaPath(asset, tf), meta); err != nil {
		return nil, err
	}

	result.Added = meta.TotalCount - before
	result.Years = written
	logx.WithContext(ctx).Infof("segment: merged asset=%s timeframe=%s received=%d added=%d total=%d years=%v",
		asset, tf, received, result.Added, meta.TotalCount, written)
	return result, nil
}

// Reset removes every segment and metadata file of an asset.
func (w *Writer) Reset(ctx context.Context, asset string) error {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	for _, tf := range candle.All() {
		_, err := w.locks.Do(lockKey(asset, tf), func() (any, error) {
			return nil, w.removeSeries(asset, tf)
		})
		if err != nil {
			return err
		}
	}
	dir := w.store.assetDir(asset)
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.WithContext(ctx).Errorf("segment: remove asset dir=%s err=%v", dir, err)
	}
	logx.WithContext(ctx).Infof("segment: reset asset=%s", asset)
	return nil
}

func (w *Writer) removeSeries(asset string, tf candle.Timeframe) error {
	// metadata first so a partial reset never leaves metadata pointing at removed files
	if err := os.Remove(w.store.MetaPath(asset, tf)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("segment: remove metadata: %w", err)
	}
	years, err := w.store.years(asset, tf)
	if err != nil {
		return err
	}
	for _, y := range years {
		path := w.store.SegmentPath(asset, tf, y)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("segment: remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
