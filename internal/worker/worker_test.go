// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/queue"
	"github.com/clipwork/clipwork/internal/repo"
)

func newPendingJob(t *testing.T, jobs *repo.Jobs) *model.Job {
	t.Helper()
	job := &model.Job{
		OwnerID:      1,
		Type:         model.JobJoin,
		InputFileIDs: []int64{1, 2},
		Config:       []byte(`{"file_ids":[1,2]}`),
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestBackoff(t *testing.T) {
	for attempt, want := range map[int]time.Duration{
		1: 60 * time.Second,
		2: 120 * time.Second,
		3: 240 * time.Second,
		4: 300 * time.Second, // capped
		9: 300 * time.Second,
	} {
		got := Backoff(attempt)
		lo := time.Duration(float64(want) * (1 - retryJitter))
		hi := time.Duration(float64(want) * (1 + retryJitter))
		assert.GreaterOrEqual(t, got, lo, "attempt %d", attempt)
		assert.LessOrEqual(t, got, hi, "attempt %d", attempt)
	}
}

func TestProgressSink_ThrottlesAndStaysMonotonic(t *testing.T) {
	db, err := repo.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	jobs := repo.NewJobs(db)

	job := newPendingJob(t, jobs)

	sink := newProgressSink(jobs, time.Hour) // only the first write fits the window
	ctx := context.Background()

	sink.Report(ctx, job.ID, 10)
	sink.Report(ctx, job.ID, 20) // throttled
	sink.Report(ctx, job.ID, 5)  // non-monotonic

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10, got.Progress, 0.001)

	// 100 bypasses the throttle
	sink.Report(ctx, job.ID, 100)
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, got.Progress, 0.001)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *repo.Jobs, *queue.Queue) {
	t.Helper()
	db, err := repo.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	jobs := repo.NewJobs(db)
	q := queue.New(rdb, time.Minute)
	return New(jobs, repo.NewFiles(db), q, nil, nil, 1), jobs, q
}

func TestDispatcher_CancelPending(t *testing.T) {
	d, jobs, q := newTestDispatcher(t)
	ctx := context.Background()

	job := newPendingJob(t, jobs)
	require.NoError(t, d.Submit(ctx, job))

	require.NoError(t, d.Cancel(ctx, job.ID, job.OwnerID))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job left the queue")

	// cancelling a terminal job is rejected
	err = d.Cancel(ctx, job.ID, job.OwnerID)
	assert.Error(t, err)
}

func TestDispatcher_CancelWrongOwner(t *testing.T) {
	d, jobs, _ := newTestDispatcher(t)
	job := newPendingJob(t, jobs)
	assert.Error(t, d.Cancel(context.Background(), job.ID, job.OwnerID+1))
}

func TestDispatcher_RetryFailedJob(t *testing.T) {
	d, jobs, q := newTestDispatcher(t)
	ctx := context.Background()

	job := newPendingJob(t, jobs)
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, model.StatusProcessing, ""))
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, "boom"))
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, 80))

	require.NoError(t, d.Retry(ctx, job.ID, job.OwnerID))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Zero(t, got.Progress)
	assert.Empty(t, got.ErrorMessage)

	entry, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, entry.JobID)

	// retrying a pending job is rejected
	assert.Error(t, d.Retry(ctx, job.ID, job.OwnerID))
}

func TestProgressSink_AdvancesAfterWindow(t *testing.T) {
	db, err := repo.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	jobs := repo.NewJobs(db)

	job := newPendingJob(t, jobs)

	sink := newProgressSink(jobs, time.Millisecond)
	ctx := context.Background()

	sink.Report(ctx, job.ID, 10)
	time.Sleep(5 * time.Millisecond)
	sink.Report(ctx, job.ID, 30)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30, got.Progress, 0.001)
}
