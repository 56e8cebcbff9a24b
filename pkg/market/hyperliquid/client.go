package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"

	"chartlab-api/pkg/candle"
)

const (
	defaultBaseURL          = "https://api.hyperliquid.xyz/info"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
	// maxPageCandles is the most candles one candleSnapshot call returns.
	maxPageCandles = 5000
)

var intervals = map[candle.Timeframe]string{
	candle.M1:  "1m",
	candle.M5:  "5m",
	candle.M15: "15m",
	candle.M30: "30m",
	candle.H1:  "1h",
	candle.H4:  "4h",
	candle.D1:  "1d",
}

// StatusError reports a non-retryable HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hyperliquid: http status %d: %s", e.Code, e.Body)
}

// Client wraps access to the Hyperliquid info endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
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

// WithBaseURL overrides the default info endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
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

// WithBackoff sets the first retry delay.
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

// NewClient constructs a Hyperliquid API client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoffBase,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Candles returns candles of coin at tf with open time in [from, to). Long
// ranges are fetched page by page.
func (c *Client) Candles(ctx context.Context, coin string, tf candle.Timeframe, from, to time.Time) ([]candle.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("hyperliquid: unsupported interval %s", tf)
	}
	step := tf.Duration()
	var out []candle.Candle
	for start := from; start.Before(to); {
		end := start.Add(step * maxPageCandles)
		if end.After(to) {
			end = to
		}
		var page candleResponse
		req := infoRequest{
			Type: "candleSnapshot",
			Req: &candleSnapshotRequest{
				Coin:      coin,
				Interval:  interval,
				StartTime: start.UnixMilli(),
				EndTime:   end.UnixMilli() - 1,
			},
		}
		if err := c.doRequest(ctx, req, &page); err != nil {
			return nil, err
		}
		for _, item := range page {
			if item.T < from.UnixMilli() || item.T >= to.UnixMilli() {
				continue
			}
			out = append(out, candle.Candle{Time: item.T, Open: item.O, High: item.H, Low: item.L, Close: item.C, Volume: item.V})
		}
		start = end
	}
	return candle.Dedup(out), nil
}

// doRequest posts an info request and decodes the response into result.
// Transport errors, 429 and 5xx are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, req infoRequest, result any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode request: %w", err)
	}
	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		retry, err := c.post(ctx, payload, result)
		if err == nil {
			return nil
		}
		if !retry || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt < c.maxRetries {
			logx.WithContext(ctx).Infof("hyperliquid: %s attempt %d failed: %v", req.Type, attempt+1, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, payload []byte, result any) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("hyperliquid: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return false, fmt.Errorf("hyperliquid: decode response: %w", err)
	}
	return false, nil
}
