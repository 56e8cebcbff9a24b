package indicator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/metric"

	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
)

const (
	stderrTail = 2048
	// waitDelay bounds how long Wait blocks on pipes held open after a kill.
	waitDelay = 500 * time.Millisecond
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	metricRuns = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "chartlab",
		Subsystem: "indicator",
		Name:      "runs_total",
		Help:      "indicator runs by outcome kind",
		Labels:    []string{"kind"},
	})
	metricRunDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: "chartlab",
		Subsystem: "indicator",
		Name:      "run_duration_ms",
		Help:      "indicator run wall time in milliseconds",
		Labels:    []string{"kind"},
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// Bridge runs indicator scripts in short-lived worker processes.
type Bridge struct {
	cfg Config
}

// NewBridge returns a bridge for cfg. cfg is normalized when that has not happened yet.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Timeout == 0 || cfg.Entry == "" {
		if err := cfg.Normalize(); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{cfg: cfg}, nil
}

// Timeout returns the per-run deadline.
func (b *Bridge) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Resolve returns the script path of an indicator.
func (b *Bridge) Resolve(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", apperr.New(apperr.InputError, "invalid indicator id %q", id)
	}
	script := filepath.Join(b.cfg.Dir, id, b.cfg.Entry)
	info, err := os.Stat(script)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", apperr.New(apperr.NotFound, "indicator %q not found", id)
	case err != nil:
		return "", apperr.Wrap(apperr.ServerError, err, "stat indicator %q", id)
	case info.IsDir():
		return "", apperr.New(apperr.NotFound, "indicator %q has no %s", id, b.cfg.Entry)
	}
	return script, nil
}

// BuildRequest converts a candle window into the column-oriented worker request.
func BuildRequest(candles []candle.Candle, settings map[string]any) Request {
	in := Inputs{
		Time:   make([]int64, len(candles)),
		Open:   make([]float64, len(candles)),
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		in.Time[i], in.Open[i], in.High[i], in.Low[i], in.Close[i], in.Volume[i] = c.Time, c.Open, c.High, c.Low, c.Close, c.Volume
	}
	return Request{APIVersion: APIVersion, Inputs: in, Settings: settings}
}

// Run executes indicator id once over candles. It never returns a Go error:
// failures come back as a Result with OK false and a typed Error.
func (b *Bridge) Run(ctx context.Context, id string, candles []candle.Candle, settings map[string]any) *Result {
	start := time.Now()
	res := b.run(ctx, id, candles, settings)
	kind := "ok"
	if !res.OK {
		kind = string(res.Error.Type)
		logx.WithContext(ctx).Errorf("indicator: run %s failed type=%s: %s", id, res.Error.Type, res.Error.Message)
	}
	metricRuns.Inc(kind)
	metricRunDuration.Observe(time.Since(start).Milliseconds(), kind)
	return res
}

func (b *Bridge) run(ctx context.Context, id string, candles []candle.Candle, settings map[string]any) *Result {
	script, err := b.Resolve(id)
	if err != nil {
		return failure(apperr.KindOf(err), "%s", err.Error())
	}
	if len(candles) == 0 {
		return failure(apperr.InputError, "candles are required")
	}
	payload, err := json.Marshal(BuildRequest(candles, settings))
	if err != nil {
		return failure(apperr.InputError, "encode request: %v", err)
	}

	out, res := b.execute(ctx, script, payload)
	if res != nil {
		return res
	}

	var resp workerResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return failure(apperr.ParseError, "worker output is not valid JSON: %v", err)
	}
	if resp.OK == nil || !*resp.OK {
		return workerFailure(resp.Error)
	}
	result, err := normalize(&resp, candles)
	if err != nil {
		return failure(apperr.ParseError, "normalize worker output: %v", err)
	}
	return result
}

// execute runs the worker once and returns its stdout, or a failure result.
func (b *Bridge) execute(ctx context.Context, script string, payload []byte) ([]byte, *Result) {
	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	name, args := script, b.cfg.Args
	if b.cfg.Interpreter != "" {
		name = b.cfg.Interpreter
		args = append(append([]string{}, b.cfg.Args...), script)
	}
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = filepath.Dir(script)
	cmd.Stdin = bytes.NewReader(payload)
	stdout := &cappedBuffer{limit: b.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: stderrTail, keepTail: true}
	cmd.Stdout, cmd.Stderr = stdout, stderr
	cmd.WaitDelay = waitDelay
	isolate(cmd)
	var killed atomic.Bool
	kill := cmd.Cancel
	cmd.Cancel = func() error {
		err := kill()
		if err == nil {
			killed.Store(true)
		}
		return err
	}

	if err := cmd.Start(); err != nil {
		return nil, failure(apperr.SpawnError, "start worker %s: %v", filepath.Base(name), err)
	}
	waitErr := cmd.Wait()

	if res := interrupted(killed.Load(), runCtx, ctx, b.cfg.Timeout); res != nil {
		return nil, res
	}
	switch {
	case stdout.overflow:
		return nil, failure(apperr.RunnerError, "worker output exceeds %d bytes", b.cfg.MaxOutputBytes)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		msg := "worker produced no output"
		if waitErr != nil {
			msg += " (" + waitErr.Error() + ")"
		}
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		return nil, failure(apperr.RunnerError, "%s", msg)
	}
	if waitErr != nil {
		logx.WithContext(ctx).Infof("indicator: worker %s exited with %v, parsing output anyway", script, waitErr)
	}
	return out, nil
}

// interrupted reports a failure only when the worker was actually killed. A
// worker that exited on its own right at the deadline keeps its output.
func interrupted(killed bool, runCtx, parent context.Context, timeout time.Duration) *Result {
	if !killed {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return failure(apperr.Timeout, "indicator exceeded %s and was terminated", timeout)
	}
	cause := parent.Err()
	if cause == nil {
		cause = runCtx.Err()
	}
	return failure(apperr.ServerError, "indicator run cancelled: %v", cause)
}

func workerFailure(raw json.RawMessage) *Result {
	raw = bytes.TrimSpace(raw)
	we := workerError{}
	if len(raw) > 0 && raw[0] == '"' {
		_ = json.Unmarshal(raw, &we.Message)
	} else if len(raw) > 0 {
		if err := json.Unmarshal(raw, &we); err != nil {
			we.Message = string(raw)
		}
	}
	// workers may only report their own input or computation failures
	kind := apperr.IndicatorError
	if apperr.Kind(strings.TrimSpace(we.Type)) == apperr.InputError {
		kind = apperr.InputError
	}
	if we.Message == "" {
		we.Message = "indicator reported failure"
	}
	return failure(kind, "%s", we.Message)
}

// cappedBuffer accepts everything so the worker never blocks on a full pipe,
// but stores at most limit bytes. keepTail retains the last bytes instead of the first.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	keepTail bool
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	if c.keepTail {
		c.buf.Write(p)
		if extra := c.buf.Len() - c.limit; extra > 0 {
			tail := append([]byte(nil), c.buf.Bytes()[extra:]...)
			c.buf.Reset()
			c.buf.Write(tail)
		}
		return n, nil
	}
	room := c.limit - c.buf.Len()
	if room < len(p) {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return n, nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }

func (c *cappedBuffer) String() string { return c.buf.String() }
