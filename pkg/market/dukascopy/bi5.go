package dukascopy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"chartlab-api/pkg/candle"
)

const (
	tickRecordSize   = 20
	candleRecordSize = 24
)

// decompress inflates an LZMA-alone payload. An empty payload means the hour had no data.
func decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("dukascopy: open lzma stream: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dukascopy: inflate: %w", err)
	}
	return raw, nil
}

// decodeTicks parses 20-byte tick records. base is the start of the hour the file covers.
func decodeTicks(raw []byte, base time.Time, decimals int) ([]candle.Tick, error) {
	if len(raw)%tickRecordSize != 0 {
		return nil, fmt.Errorf("dukascopy: tick payload of %d bytes is not a multiple of %d", len(raw), tickRecordSize)
	}
	scale := math.Pow10(decimals)
	baseMs := base.UnixMilli()
	out := make([]candle.Tick, 0, len(raw)/tickRecordSize)
	for off := 0; off < len(raw); off += tickRecordSize {
		rec := raw[off : off+tickRecordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := float64(binary.BigEndian.Uint32(rec[4:8])) / scale
		bid := float64(binary.BigEndian.Uint32(rec[8:12])) / scale
		askVol := float64(math.Float32frombits(binary.BigEndian.Uint32(rec[12:16])))
		bidVol := float64(math.Float32frombits(binary.BigEndian.Uint32(rec[16:20])))
		out = append(out, candle.Tick{
			Timestamp: baseMs + int64(ms),
			AskPrice:  &ask,
			BidPrice:  &bid,
			AskVolume: &askVol,
			BidVolume: &bidVol,
		})
	}
	return out, nil
}

// decodeCandles parses 24-byte candle records. Offsets are seconds from base.
func decodeCandles(raw []byte, base time.Time, decimals int) ([]candle.Candle, error) {
	if len(raw)%candleRecordSize != 0 {
		return nil, fmt.Errorf("dukascopy: candle payload of %d bytes is not a multiple of %d", len(raw), candleRecordSize)
	}
	scale := math.Pow10(decimals)
	out := make([]candle.Candle, 0, len(raw)/candleRecordSize)
	for off := 0; off < len(raw); off += candleRecordSize {
		rec := raw[off : off+candleRecordSize]
		sec := binary.BigEndian.Uint32(rec[0:4])
		c := candle.Candle{
			Time:   base.Add(time.Duration(sec) * time.Second).UnixMilli(),
			Open:   float64(binary.BigEndian.Uint32(rec[4:8])) / scale,
			Close:  float64(binary.BigEndian.Uint32(rec[8:12])) / scale,
			Low:    float64(binary.BigEndian.Uint32(rec[12:16])) / scale,
			High:   float64(binary.BigEndian.Uint32(rec[16:20])) / scale,
			Volume: float64(math.Float32frombits(binary.BigEndian.Uint32(rec[20:24]))),
		}
		// flat zero-volume bars pad weekends and holidays
		if c.Volume == 0 && c.Open == c.Close && c.High == c.Low {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
