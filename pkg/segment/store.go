package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/jsonfile"
)

var (
	// ErrInvalidAsset is returned for asset identifiers that cannot be used as a directory name.
	ErrInvalidAsset = errors.New("segment: invalid asset")

	assetPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
)

// Segment is one calendar year of candles for an asset/timeframe.
type Segment struct {
	Asset       string           `json:"asset"`
	Timeframe   candle.Timeframe `json:"timeframe"`
	Year        int              `json:"segment"`
	Range       candle.Range     `json:"range"`
	Candles     []candle.Candle  `json:"candles"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Entry summarizes one segment inside the series metadata.
type Entry struct {
	Year  int    `json:"segment"`
	File  string `json:"file"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Count int    `json:"count"`
}

// Meta is the per asset/timeframe summary. TotalCount equals the sum of the
// entry counts and Range spans all entries.
type Meta struct {
	Asset       string           `json:"asset"`
	Timeframe   candle.Timeframe `json:"timeframe"`
	Range       candle.Range     `json:"range"`
	TotalCount  int              `json:"totalCount"`
	Segments    []Entry          `json:"segments"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Store lays out segment and metadata files below a root directory:
// {root}/{asset}/{asset}-{timeframe}-{year}.json and {asset}-{timeframe}-meta.json.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// NormalizeAsset lower-cases an asset identifier and checks it is safe for use in paths.
func NormalizeAsset(asset string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(asset))
	if !assetPattern.MatchString(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return clean, nil
}

func (s *Store) assetDir(asset string) string {
	return filepath.Join(s.root, asset)
}

func segmentFile(asset string, tf candle.Timeframe, year int) string {
	return fmt.Sprintf("%s-%s-%d.json", asset, tf, year)
}

func metaFile(asset string, tf candle.Timeframe) string {
	return fmt.Sprintf("%s-%s-meta.json", asset, tf)
}

// SegmentPath returns the file holding one year of candles.
func (s *Store) SegmentPath(asset string, tf candle.Timeframe, year int) string {
	return filepath.Join(s.assetDir(asset), segmentFile(asset, tf, year))
}

// MetaPath returns the metadata file of a series.
func (s *Store) MetaPath(asset string, tf candle.Timeframe) string {
	return filepath.Join(s.assetDir(asset), metaFile(asset, tf))
}

// LoadSegment reads one year segment. It returns nil, nil when the file does not exist.
func (s *Store) LoadSegment(asset string, tf candle.Timeframe, year int) (*Segment, error) {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	var seg Segment
	if err := jsonfile.Read(s.SegmentPath(asset, tf, year), &seg); err != nil {
		if errors.Is(err, jsonfile.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seg.Asset, seg.Timeframe, seg.Year = asset, tf, year
	seg.Candles = sanitize(seg.Candles)
	seg.Range = candle.Span(seg.Candles)
	return &seg, nil
}

// LoadMeta reads and repairs the series metadata. It returns nil, nil when
// the series has neither metadata nor segment files.
func (s *Store) LoadMeta(asset string, tf candle.Timeframe) (*Meta, error) {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	var (
		meta    Meta
		metaMod time.Time
	)
	if info, err := os.Stat(s.MetaPath(asset, tf)); err == nil {
		metaMod = info.ModTime()
	}
	readErr := jsonfile.Read(s.MetaPath(asset, tf), &meta)
	switch {
	case readErr == nil:
	case errors.Is(readErr, jsonfile.ErrNotExist):
		meta = Meta{}
	default:
		logx.Errorf("segment: metadata unreadable, rebuilding asset=%s timeframe=%s err=%v", asset, tf, readErr)
		meta = Meta{}
	}
	meta.Asset, meta.Timeframe = asset, tf

	repaired, err := s.repair(&meta, metaMod)
	if err != nil {
		return nil, err
	}
	if repaired {
		logx.Infof("segment: repaired metadata asset=%s timeframe=%s total=%d segments=%d",
			asset, tf, meta.TotalCount, len(meta.Segments))
	}
	if len(meta.Segments) == 0 {
		return nil, nil
	}
	return &meta, nil
}

// repair brings meta back in line with the segment files on disk. Entries with
// impossible values, entries whose segment file was modified after the
// metadata (a merge interrupted before its commit), and files missing from the
// entry list are rebuilt from the segment itself; entries whose file vanished
// are dropped. Totals and range are always recomputed from the entries.
func (s *Store) repair(meta *Meta, metaMod time.Time) (bool, error) {
	years, err := s.years(meta.Asset, meta.Timeframe)
	if err != nil {
		return false, err
	}
	onDisk := make(map[int]struct{}, len(years))
	for _, y := range years {
		onDisk[y] = struct{}{}
	}

	repaired := false
	byYear := make(map[int]Entry, len(meta.Segments))
	for _, e := range meta.Segments {
		if _, ok := onDisk[e.Year]; !ok {
			repaired = true
			continue
		}
		if _, dup := byYear[e.Year]; dup || !e.consistent(meta.Asset, meta.Timeframe) {
			repaired = true
			continue
		}
		if s.modifiedAfter(s.SegmentPath(meta.Asset, meta.Timeframe, e.Year), metaMod) {
			repaired = true
			continue
		}
		byYear[e.Year] = e
	}
	for _, y := range years {
		if _, ok := byYear[y]; ok {
			continue
		}
		seg, err := s.LoadSegment(meta.Asset, meta.Timeframe, y)
		if err != nil {
			return false, err
		}
		repaired = true
		if seg == nil || len(seg.Candles) == 0 {
			continue
		}
		byYear[y] = entryFor(seg)
	}

	entries := make([]Entry, 0, len(byYear))
	for _, e := range byYear {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Year < entries[j].Year })

	total, rng := summarize(entries)
	if total != meta.TotalCount || rng != meta.Range {
		repaired = true
	}
	meta.Segments = entries
	meta.TotalCount = total
	meta.Range = rng
	return repaired, nil
}

func (s *Store) modifiedAfter(path string, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.ModTime().After(t)
}

func (e Entry) consistent(asset string, tf candle.Timeframe) bool {
	if e.Count <= 0 || e.Start <= 0 || e.End < e.Start {
		return false
	}
	if e.File != segmentFile(asset, tf, e.Year) {
		return false
	}
	start, end := time.UnixMilli(e.Start).UTC().Year(), time.UnixMilli(e.End).UTC().Year()
	return start == e.Year && end == e.Year
}

func entryFor(seg *Segment) Entry {
	return Entry{
		Year:  seg.Year,
		File:  segmentFile(seg.Asset, seg.Timeframe, seg.Year),
		Start: seg.Range.Start,
		End:   seg.Range.End,
		Count: len(seg.Candles),
	}
}

func summarize(entries []Entry) (int, candle.Range) {
	total := 0
	var rng candle.Range
	for _, e := range entries {
		total += e.Count
		rng = rng.Union(candle.Range{Start: e.Start, End: e.End})
	}
	return total, rng
}

// Years lists the segment years present on disk for a series, ascending.
func (s *Store) Years(asset string, tf candle.Timeframe) ([]int, error) {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return s.years(asset, tf)
}

func (s *Store) years(asset string, tf candle.Timeframe) ([]int, error) {
	pattern := filepath.Join(s.assetDir(asset), fmt.Sprintf("%s-%s-*.json", asset, tf))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("segment: list %s: %w", pattern, err)
	}
	prefix := fmt.Sprintf("%s-%s-", asset, tf)
	var out []int
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".json")
		year, err := strconv.Atoi(name)
		if err != nil || year < 1970 {
			continue
		}
		out = append(out, year)
	}
	sort.Ints(out)
	return out, nil
}

// LoadCandles concatenates every segment of a series in ascending time order.
func (s *Store) LoadCandles(asset string, tf candle.Timeframe) ([]candle.Candle, error) {
	meta, err := s.LoadMeta(asset, tf)
	if err != nil || meta == nil {
		return nil, err
	}
	out := make([]candle.Candle, 0, meta.TotalCount)
	for _, e := range meta.Segments {
		seg, err := s.LoadSegment(meta.Asset, tf, e.Year)
		if err != nil {
			return nil, err
		}
		if seg != nil {
			out = append(out, seg.Candles...)
		}
	}
	return out, nil
}

// Window returns up to limit candles ending at the rightmost candle whose time
// is <= to (the last candle when to is 0). Segments are read newest first and
// only as far back as needed. It returns nil when the series has no data.
func (s *Store) Window(asset string, tf candle.Timeframe, to int64, limit int) ([]candle.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	meta, err := s.LoadMeta(asset, tf)
	if err != nil || meta == nil {
		return nil, err
	}
	var chunks [][]candle.Candle
	collected := 0
	for i := len(meta.Segments) - 1; i >= 0 && collected < limit; i-- {
		e := meta.Segments[i]
		if to > 0 && e.Start > to {
			continue
		}
		seg, err := s.LoadSegment(meta.Asset, tf, e.Year)
		if err != nil {
			return nil, err
		}
		if seg == nil {
			continue
		}
		candles := seg.Candles
		end := len(candles) - 1
		if to > 0 {
			for end >= 0 && candles[end].Time > to {
				end--
			}
		}
		if end < 0 {
			continue
		}
		start := end + 1 - (limit - collected)
		if start < 0 {
			start = 0
		}
		chunks = append(chunks, candles[start:end+1])
		collected += end + 1 - start
	}
	if collected == 0 {
		return nil, nil
	}
	out := make([]candle.Candle, 0, collected)
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	return out, nil
}

// Assets lists asset directories present under the root.
func (s *Store) Assets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("segment: list assets: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && assetPattern.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// sanitize drops malformed candles and enforces ascending unique times.
func sanitize(candles []candle.Candle) []candle.Candle {
	out := make([]candle.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return candle.Dedup(out)
}
