package dukascopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
	"golang.org/x/time/rate"

	"chartlab-api/pkg/candle"
)

const (
	defaultBaseURL          = "https://datafeed.dukascopy.com/datafeed"
	defaultHTTPTimeout      = 30 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 250 * time.Millisecond
	defaultConcurrency      = 4
	userAgent               = "chartlab-api/1.0"
)

// ErrUnsupportedGranularity is returned for candle resolutions the datafeed does not publish.
var ErrUnsupportedGranularity = errors.New("dukascopy: unsupported granularity")

// StatusError reports a non-retryable HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dukascopy: http status %d for %s", e.Code, e.URL)
}

// Client downloads and decodes datafeed files.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	backoff     time.Duration
	limiter     *rate.Limiter
	concurrency int
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the datafeed root.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithBackoff sets the first retry delay. It doubles on every attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithRateLimit caps the request rate. rps <= 0 leaves requests unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithConcurrency bounds the number of parallel downloads.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient constructs a datafeed client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:  defaultMaxRetries,
		backoff:     defaultRetryBackoffBase,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func tickPath(symbol string, hour time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.ToUpper(symbol), hour.Year(), int(hour.Month())-1, hour.Day(), hour.Hour())
}

func candlePath(symbol string, tf candle.Timeframe, unit time.Time) (string, error) {
	sym := strings.ToUpper(symbol)
	switch tf {
	case candle.M1:
		return fmt.Sprintf("%s/%04d/%02d/%02d/BID_candles_min_1.bi5", sym, unit.Year(), int(unit.Month())-1, unit.Day()), nil
	case candle.H1:
		return fmt.Sprintf("%s/%04d/%02d/BID_candles_hour_1.bi5", sym, unit.Year(), int(unit.Month())-1), nil
	case candle.D1:
		return fmt.Sprintf("%s/%04d/BID_candles_day_1.bi5", sym, unit.Year()), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedGranularity, tf)
}

// candleUnits lists the file start times covering [from, to) for a granularity.
func candleUnits(tf candle.Timeframe, from, to time.Time) []time.Time {
	from, to = from.UTC(), to.UTC()
	var (
		start time.Time
		next  func(time.Time) time.Time
	)
	switch tf {
	case candle.M1:
		start = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	case candle.H1:
		start = time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	case candle.D1:
		start = time.Date(from.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	default:
		return nil
	}
	var units []time.Time
	for t := start; t.Before(to); t = next(t) {
		units = append(units, t)
	}
	return units
}

func hourUnits(from, to time.Time) []time.Time {
	var units []time.Time
	for t := from.UTC().Truncate(time.Hour); t.Before(to); t = t.Add(time.Hour) {
		units = append(units, t)
	}
	return units
}

// Ticks downloads every hourly tick file overlapping [from, to).
func (c *Client) Ticks(ctx context.Context, symbol string, decimals int, from, to time.Time) ([]candle.Tick, error) {
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	ticks, err := fetchAll(ctx, c.concurrency, hourUnits(from, to), func(ctx context.Context, hour time.Time) ([]candle.Tick, error) {
		raw, err := c.download(ctx, tickPath(symbol, hour))
		if err != nil || len(raw) == 0 {
			return nil, err
		}
		return decodeTicks(raw, hour, decimals)
	})
	if err != nil {
		return nil, err
	}
	out := ticks[:0]
	for _, t := range ticks {
		if t.Timestamp >= fromMs && t.Timestamp < toMs {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Candles downloads native candle files overlapping [from, to).
func (c *Client) Candles(ctx context.Context, symbol string, decimals int, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	if _, err := candlePath(symbol, tf, from); err != nil {
		return nil, err
	}
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	candles, err := fetchAll(ctx, c.concurrency, candleUnits(tf, from, to), func(ctx context.Context, unit time.Time) ([]candle.Candle, error) {
		path, _ := candlePath(symbol, tf, unit)
		raw, err := c.download(ctx, path)
		if err != nil || len(raw) == 0 {
			return nil, err
		}
		return decodeCandles(raw, unit, decimals)
	})
	if err != nil {
		return nil, err
	}
	out := candles[:0]
	for _, cd := range candles {
		if cd.Time >= fromMs && cd.Time < toMs {
			out = append(out, cd)
		}
	}
	candle.SortByTime(out)
	return out, nil
}

// download fetches and inflates one file. Missing files yield nil, nil.
func (c *Client) download(ctx context.Context, path string) ([]byte, error) {
	payload, err := c.doRequest(ctx, c.baseURL+"/"+path)
	if err != nil {
		return nil, err
	}
	raw, err := decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return raw, nil
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dukascopy: build request: %w", err)
		}
		httpReq.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil, nil
			case readErr != nil:
				lastErr = fmt.Errorf("dukascopy: read response: %w", readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return body, nil
			case retryable(resp.StatusCode):
				lastErr = &StatusError{Code: resp.StatusCode, URL: url}
			default:
				return nil, &StatusError{Code: resp.StatusCode, URL: url}
			}
		}

		if attempt < c.maxRetries {
			logx.WithContext(ctx).Infof("dukascopy: retrying %s after %s (attempt %d): %v", url, backoff, attempt+1, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("dukascopy: request failed without error detail")
}

type part[T any] struct {
	idx   int
	items []T
}

// fetchAll runs fetch for every unit with bounded parallelism and concatenates
// the results in unit order. The first error cancels the rest.
func fetchAll[T any](ctx context.Context, workers int, units []time.Time, fetch func(context.Context, time.Time) ([]T, error)) ([]T, error) {
	if len(units) == 0 {
		return nil, nil
	}
	return mr.MapReduce(func(source chan<- int) {
		for i := range units {
			source <- i
		}
	}, func(i int, writer mr.Writer[part[T]], cancel func(error)) {
		items, err := fetch(ctx, units[i])
		if err != nil {
			cancel(err)
			return
		}
		writer.Write(part[T]{idx: i, items: items})
	}, func(pipe <-chan part[T], writer mr.Writer[[]T], cancel func(error)) {
		parts := make([][]T, len(units))
		for p := range pipe {
			parts[p.idx] = p.items
		}
		var out []T
		for _, p := range parts {
			out = append(out, p...)
		}
		writer.Write(out)
	}, mr.WithWorkers(workers), mr.WithContext(ctx))
}
