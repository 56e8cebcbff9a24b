package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/pkg/jsonfile"
)

// Status is the lifecycle state of an import job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

const restartMessage = "server restarted while job was in progress; the import cannot be resumed"

// LogEntry is one line of a job's audit trail.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ResolvedRange is the concrete import window chosen for a job.
type ResolvedRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Mode  string    `json:"mode"`
}

// Job is a snapshot of an import job.
type Job struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	Progress      float64        `json:"progress"`
	Logs          []LogEntry     `json:"logs"`
	Asset         string         `json:"asset"`
	Timeframe     string         `json:"timeframe"`
	Timeframes    []string       `json:"timeframes,omitempty"`
	RangeResolved *ResolvedRange `json:"rangeResolved,omitempty"`
	Error         string         `json:"error,omitempty"`
	BootEpoch     string         `json:"bootEpoch"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Logs = append([]LogEntry(nil), j.Logs...)
	out.Timeframes = append([]string(nil), j.Timeframes...)
	if j.RangeResolved != nil {
		r := *j.RangeResolved
		out.RangeResolved = &r
	}
	return &out
}

type snapshotFile struct {
	ServerBootID string    `json:"serverBootId"`
	Jobs         []*Job    `json:"jobs"`
	SavedAt      time.Time `json:"savedAt"`
}

// Options configures a Registry.
type Options struct {
	// Path of the snapshot file; empty disables persistence.
	Path string
	// MaxJobs bounds the table; oldest terminal jobs are evicted first. 0 keeps everything.
	MaxJobs int
}

// Registry owns the job table. Every Set persists the whole table atomically.
type Registry struct {
	bootEpoch string
	path      string
	maxJobs   int
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job

	saveMu sync.Mutex
}

// NewRegistry creates a registry tagged with a fresh boot epoch.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		bootEpoch: uuid.NewString(),
		path:      opts.Path,
		maxJobs:   opts.MaxJobs,
		now:       time.Now,
		jobs:      make(map[string]*Job),
	}
}

// BootEpoch identifies this process instance.
func (r *Registry) BootEpoch() string {
	return r.bootEpoch
}

// Create registers a new queued job and returns a copy of it.
func (r *Registry) Create(ctx context.Context, asset, timeframe string) (*Job, error) {
	now := r.now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Asset:     asset,
		Timeframe: timeframe,
		Logs:      []LogEntry{},
		BootEpoch: r.bootEpoch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Set(ctx, job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Get returns a copy of the job, or false when unknown.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Set stores a copy of job and persists the table.
func (r *Registry) Set(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("jobs: job id is required")
	}
	stored := job.Clone()
	stored.UpdatedAt = r.now().UTC()

	r.mu.Lock()
	r.jobs[stored.ID] = stored
	r.evictLocked()
	r.mu.Unlock()

	return r.save(ctx)
}

// Snapshot returns copies of all jobs, newest first.
func (r *Registry) Snapshot() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) evictLocked() {
	if r.maxJobs <= 0 || len(r.jobs) <= r.maxJobs {
		return
	}
	terminal := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if job.Status.Terminal() {
			terminal = append(terminal, job)
		}
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].CreatedAt.Before(terminal[j].CreatedAt) })
	for _, job := range terminal {
		if len(r.jobs) <= r.maxJobs {
			return
		}
		delete(r.jobs, job.ID)
	}
}

func (r *Registry) save(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap := snapshotFile{
		ServerBootID: r.bootEpoch,
		Jobs:         r.Snapshot(),
		SavedAt:      r.now().UTC(),
	}
	if err := jsonfile.Write(r.path, snap); err != nil {
		logx.WithContext(ctx).Errorf("jobs: persist snapshot path=%s err=%v", r.path, err)
		return fmt.Errorf("jobs: persist snapshot: %w", err)
	}
	return nil
}

// Recover loads the snapshot left by a previous process. Jobs from another
// boot epoch that never reached a terminal state are marked as failed.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	if r.path == "" {
		return 0, nil
	}
	var snap snapshotFile
	if err := jsonfile.Read(r.path, &snap); err != nil {
		if errors.Is(err, jsonfile.ErrNotExist) {
			return 0, nil
		}
		logx.WithContext(ctx).Errorf("jobs: snapshot unreadable, starting empty path=%s err=%v", r.path, err)
		return 0, nil
	}

	now := r.now().UTC()
	failed := 0
	r.mu.Lock()
	for _, job := range snap.Jobs {
		if job == nil || job.ID == "" {
			continue
		}
		if job.BootEpoch != r.bootEpoch && !job.Status.Terminal() {
			job.Status = StatusError
			job.Error = restartMessage
			job.Logs = append(job.Logs, LogEntry{Timestamp: now, Message: "job failed: " + restartMessage})
			job.UpdatedAt = now
			failed++
		}
		if job.Logs == nil {
			job.Logs = []LogEntry{}
		}
		r.jobs[job.ID] = job
	}
	r.evictLocked()
	r.mu.Unlock()

	if failed > 0 {
		logx.WithContext(ctx).Infof("jobs: marked %d interrupted job(s) from previous boot %s as error", failed, snap.ServerBootID)
	}
	return failed, r.save(ctx)
}
