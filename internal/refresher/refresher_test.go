package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlab-api/internal/importer"
	"chartlab-api/internal/jobs"
)

type fakeQueue struct {
	mu       sync.Mutex
	requests []importer.Request
	status   map[string]jobs.Status
	fail     string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{status: map[string]jobs.Status{}}
}

func (q *fakeQueue) Submit(_ context.Context, req importer.Request) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.Asset == q.fail {
		return nil, errors.New("provider unavailable")
	}
	q.requests = append(q.requests, req)
	id := fmt.Sprintf("job-%d", len(q.requests))
	q.status[id] = jobs.StatusRunning
	return &jobs.Job{ID: id, Asset: req.Asset, Status: jobs.StatusQueued}, nil
}

func (q *fakeQueue) Get(id string) (*jobs.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.status[id]
	if !ok {
		return nil, false
	}
	return &jobs.Job{ID: id, Status: st}, true
}

func (q *fakeQueue) finishAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.status {
		q.status[id] = jobs.StatusCompleted
	}
}

func TestNewValidates(t *testing.T) {
	q := newFakeQueue()
	_, err := New(Config{}, q, q)
	assert.Error(t, err)

	_, err = New(Config{Watchlist: []Item{{Timeframe: "h1"}}}, q, q)
	assert.Error(t, err)

	r, err := New(Config{Watchlist: []Item{{Asset: "eurusd"}}}, q, q)
	require.NoError(t, err)
	assert.Equal(t, defaultSchedule, r.Schedule())
}

func TestRunOnceSkipsBusySeries(t *testing.T) {
	q := newFakeQueue()
	r, err := New(Config{Watchlist: []Item{{Asset: "eurusd", Timeframe: "h1"}, {Asset: "synusd"}}}, q, q)
	require.NoError(t, err)

	assert.Equal(t, 2, r.RunOnce(context.Background()))
	assert.Equal(t, importer.Request{Asset: "eurusd", Timeframe: "h1"}, q.requests[0])
	assert.Equal(t, importer.Request{Asset: "synusd"}, q.requests[1])

	assert.Equal(t, 0, r.RunOnce(context.Background()))

	q.finishAll()
	assert.Equal(t, 2, r.RunOnce(context.Background()))
	assert.Len(t, q.requests, 4)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	q := newFakeQueue()
	q.fail = "eurusd"
	r, err := New(Config{Watchlist: []Item{{Asset: "eurusd"}, {Asset: "synusd"}}}, q, q)
	require.NoError(t, err)
	assert.Equal(t, 1, r.RunOnce(context.Background()))
	// a failed submit leaves nothing pending
	q.fail = ""
	assert.Equal(t, 1, r.RunOnce(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	q := newFakeQueue()
	r, err := New(Config{Schedule: "every so often", Watchlist: []Item{{Asset: "eurusd"}}}, q, q)
	require.NoError(t, err)
	assert.Error(t, r.Start(context.Background()))

	r, err = New(Config{Schedule: "0 */5 * * * *", Watchlist: []Item{{Asset: "eurusd"}}}, q, q)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}
