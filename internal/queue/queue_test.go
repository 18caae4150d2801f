// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, 5*time.Minute), mr
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 1, 0, 5))
	require.NoError(t, q.Enqueue(ctx, 2, 0, 10))
	require.NoError(t, q.Enqueue(ctx, 3, 0, 1))
	require.NoError(t, q.Enqueue(ctx, 4, 0, 10))

	var order []int64
	for {
		e, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, e.JobID)
	}
	// highest priority first, FIFO inside a tier
	assert.Equal(t, []int64{2, 4, 1, 3}, order)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for id := int64(1); id <= 20; id++ {
		require.NoError(t, q.Enqueue(ctx, id, 0, 5))
	}
	for id := int64(1); id <= 20; id++ {
		e, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, e.JobID)
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	_, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_AckRemovesClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 7, 0, 5))
	e, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, claimed, _, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed)

	require.NoError(t, q.Ack(ctx, e))
	ready, claimed, delayed, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, claimed)
	assert.Zero(t, delayed)
}

func TestQueue_ReclaimExpired(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 9, 1, 5))
	e, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, e.Attempt)

	// not yet past the visibility deadline
	moved, err := q.ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = q.ReclaimExpired(ctx, time.Now().Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	e, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), e.JobID)
	assert.Equal(t, 1, e.Attempt, "reclaim keeps the attempt number")
}

func TestQueue_DelayedPromotion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	readyAt := time.Now().Add(time.Minute)
	require.NoError(t, q.EnqueueDelayed(ctx, 11, 1, 10, readyAt))

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "delayed entries are not dequeueable")

	moved, err := q.PromoteDelayed(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = q.PromoteDelayed(ctx, readyAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	e, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(11), e.JobID)
}

func TestQueue_Remove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 1, 0, 5))
	require.NoError(t, q.Enqueue(ctx, 2, 0, 5))
	require.NoError(t, q.EnqueueDelayed(ctx, 1, 1, 5, time.Now().Add(time.Minute)))

	require.NoError(t, q.Remove(ctx, 1))

	ready, _, delayed, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)
	assert.Zero(t, delayed)

	e, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), e.JobID)
}

func TestReadyScore(t *testing.T) {
	// any seq at priority 10 beats any realistic seq at priority 9
	assert.Less(t, readyScore(10, 1<<40), readyScore(9, 1))
	// FIFO inside a tier
	assert.Less(t, readyScore(5, 1), readyScore(5, 2))
	// out-of-range priorities clamp instead of escaping their band
	assert.Equal(t, readyScore(10, 7), readyScore(99, 7))
	assert.Equal(t, readyScore(1, 7), readyScore(-3, 7))
}
