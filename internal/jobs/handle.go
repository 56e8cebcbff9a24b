package jobs

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"
)

// Handle is the owning task's view of one job. All mutations go through it
// and are written back to the registry.
type Handle struct {
	reg *Registry
	mu  sync.Mutex
	job *Job
}

// Handle returns a mutation handle for job.
func (r *Registry) Handle(job *Job) *Handle {
	return &Handle{reg: r, job: job.Clone()}
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.job.ID
}

// Snapshot returns a copy of the current job state.
func (h *Handle) Snapshot() *Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

func (h *Handle) update(ctx context.Context, fn func(job *Job)) {
	h.mu.Lock()
	if h.job.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	fn(h.job)
	snap := h.job.Clone()
	h.mu.Unlock()

	if err := h.reg.Set(ctx, snap); err != nil {
		logx.WithContext(ctx).Errorf("jobs: update job=%s err=%v", snap.ID, err)
	}
}

func (h *Handle) appendLog(job *Job, msg string) {
	job.Logs = append(job.Logs, LogEntry{Timestamp: h.reg.now().UTC(), Message: msg})
}

// Logf appends a line to the job log.
func (h *Handle) Logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.update(ctx, func(job *Job) {
		h.appendLog(job, msg)
	})
	logx.WithContext(ctx).Infof("import job=%s: %s", h.job.ID, msg)
}

// Start moves a queued job to running.
func (h *Handle) Start(ctx context.Context, timeframes []string) {
	h.update(ctx, func(job *Job) {
		job.Status = StatusRunning
		job.Timeframes = append([]string(nil), timeframes...)
		h.appendLog(job, "job started")
	})
}

// SetRange records the resolved import window.
func (h *Handle) SetRange(ctx context.Context, r ResolvedRange) {
	h.update(ctx, func(job *Job) {
		job.RangeResolved = &r
	})
}

// SetProgress moves progress forward, clamped to [0, 1]. Progress never decreases.
func (h *Handle) SetProgress(ctx context.Context, p float64) {
	if math.IsNaN(p) {
		return
	}
	p = math.Max(0, math.Min(1, p))
	h.update(ctx, func(job *Job) {
		if p > job.Progress {
			job.Progress = p
		}
	})
}

// Complete marks the job done with progress 1.
func (h *Handle) Complete(ctx context.Context) {
	h.update(ctx, func(job *Job) {
		job.Status = StatusCompleted
		job.Progress = 1
		h.appendLog(job, "import completed")
	})
}

// Fail marks the job as errored, freezing progress at its current value.
func (h *Handle) Fail(ctx context.Context, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	h.update(ctx, func(job *Job) {
		job.Status = StatusError
		job.Error = msg
		h.appendLog(job, "job failed: "+msg)
	})
	logx.WithContext(ctx).Errorf("import job=%s failed: %s", h.job.ID, msg)
}
