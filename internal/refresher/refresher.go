package refresher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/importer"
	"chartlab-api/internal/jobs"
)

const defaultSchedule = "@every 15m"

// Item is one watched series. An empty timeframe refreshes every timeframe.
type Item struct {
	Asset     string
	Timeframe string `json:",optional"`
}

// Config describes the watchlist refresh.
type Config struct {
	// Schedule is a cron expression with an optional seconds field, or a descriptor such as "@every 15m".
	Schedule string `json:",optional"`
	// Provider names the import source, empty uses the default market provider.
	Provider  string `json:",optional"`
	Watchlist []Item `json:",optional"`
}

// Enabled reports whether anything is watched.
func (c Config) Enabled() bool {
	return len(c.Watchlist) > 0
}

// Submitter queues import jobs.
type Submitter interface {
	Submit(ctx context.Context, req importer.Request) (*jobs.Job, error)
}

// JobLookup reads back submitted jobs.
type JobLookup interface {
	Get(id string) (*jobs.Job, bool)
}

// Refresher submits incremental imports for a watchlist on a schedule. A
// series whose previous job has not finished is skipped for that tick.
type Refresher struct {
	cfg       Config
	cron      *cron.Cron
	submitter Submitter
	jobs      JobLookup

	mu      sync.Mutex
	pending map[string]string
}

func New(cfg Config, submitter Submitter, lookup JobLookup) (*Refresher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("refresher: watchlist is empty")
	}
	for i, item := range cfg.Watchlist {
		if strings.TrimSpace(item.Asset) == "" {
			return nil, fmt.Errorf("refresher: watchlist[%d]: asset is required", i)
		}
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = defaultSchedule
	}
	return &Refresher{
		cfg:       cfg,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		submitter: submitter,
		jobs:      lookup,
		pending:   make(map[string]string),
	}, nil
}

// Schedule returns the effective cron expression.
func (r *Refresher) Schedule() string {
	return r.cfg.Schedule
}

// Start registers the tick and starts the scheduler. Ticks run with ctx.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresher: schedule %q: %w", r.cfg.Schedule, err)
	}
	r.cron.Start()
	logx.Infof("refresher: started schedule=%q series=%d", r.cfg.Schedule, len(r.cfg.Watchlist))
	return nil
}

// Stop halts the scheduler and waits for a running tick to return.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	logx.Info("refresher: stopped")
}

// RunOnce submits one import per watched series and returns how many were queued.
func (r *Refresher) RunOnce(ctx context.Context) int {
	logger := logx.WithContext(ctx)
	queued := 0
	for _, item := range r.cfg.Watchlist {
		key := strings.ToLower(item.Asset + "/" + item.Timeframe)
		if r.busy(key) {
			logger.Infof("refresher: %s still importing, skipped", key)
			continue
		}
		job, err := r.submitter.Submit(ctx, importer.Request{Asset: item.Asset, Timeframe: item.Timeframe})
		if err != nil {
			logger.Errorf("refresher: submit %s: %v", key, err)
			continue
		}
		r.mu.Lock()
		r.pending[key] = job.ID
		r.mu.Unlock()
		queued++
	}
	logger.Infof("refresher: tick queued %d of %d series", queued, len(r.cfg.Watchlist))
	return queued
}

func (r *Refresher) busy(key string) bool {
	r.mu.Lock()
	id, ok := r.pending[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	job, found := r.jobs.Get(id)
	return found && !job.Status.Terminal()
}
