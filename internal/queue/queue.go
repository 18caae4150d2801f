// SPDX-License-Identifier: MIT

// Package queue is the durable dispatch queue: a Redis sorted-set trio of
// ready, claimed and delayed entries. Job state lives in SQLite; the queue
// only orders work and tracks in-flight claims.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

const (
	keyReady   = "queue:ready"
	keyClaimed = "queue:claimed"
	keyDelayed = "queue:delayed"
	keySeq     = "queue:seq"

	// priorityBand spaces priority tiers far enough apart that the FIFO
	// sequence number can never cross into the next tier.
	priorityBand = 1e12
)

// Entry is one queued unit of work. The attempt number distinguishes retries
// of the same job so a stale claim cannot ack a newer attempt.
type Entry struct {
	JobID    int64 `json:"job_id"`
	Attempt  int   `json:"attempt"`
	Priority int   `json:"priority"`
	Seq      int64 `json:"seq"`
}

func (e Entry) member() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func parseEntry(member string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return Entry{}, xerr.Wrap(xerr.Internal, err, "decode queue entry")
	}
	return e, nil
}

// Queue orders pending jobs by priority, FIFO within a priority tier.
type Queue struct {
	rdb        *redis.Client
	visibility time.Duration
}

// New returns a queue over rdb. visibility bounds how long a claimed entry
// may stay unacked before it is handed to another worker.
func New(rdb *redis.Client, visibility time.Duration) *Queue {
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &Queue{rdb: rdb, visibility: visibility}
}

// readyScore ranks higher priorities first and preserves arrival order
// inside a tier.
func readyScore(priority int, seq int64) float64 {
	if priority < model.MinPriority {
		priority = model.MinPriority
	}
	if priority > model.MaxPriority {
		priority = model.MaxPriority
	}
	return float64(model.MaxPriority-priority)*priorityBand + float64(seq)
}

// Enqueue adds a job to the ready set.
func (q *Queue) Enqueue(ctx context.Context, jobID int64, attempt, priority int) error {
	seq, err := q.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return xerr.Wrap(xerr.Transient, err, "queue seq")
	}
	e := Entry{JobID: jobID, Attempt: attempt, Priority: priority, Seq: seq}
	err = q.rdb.ZAdd(ctx, keyReady, redis.Z{Score: readyScore(priority, seq), Member: e.member()}).Err()
	if err != nil {
		return xerr.Wrap(xerr.Transient, err, "queue enqueue")
	}
	return nil
}

// EnqueueDelayed parks a job until readyAt; PromoteDelayed moves it to the
// ready set afterwards. Backoff between retries goes through here.
func (q *Queue) EnqueueDelayed(ctx context.Context, jobID int64, attempt, priority int, readyAt time.Time) error {
	seq, err := q.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return xerr.Wrap(xerr.Transient, err, "queue seq")
	}
	e := Entry{JobID: jobID, Attempt: attempt, Priority: priority, Seq: seq}
	err = q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(readyAt.UnixMilli()), Member: e.member()}).Err()
	if err != nil {
		return xerr.Wrap(xerr.Transient, err, "queue enqueue delayed")
	}
	return nil
}

// claimScript atomically pops the lowest-scored ready entry and records it
// in the claimed set with a visibility deadline.
var claimScript = redis.NewScript(`
local popped = redis.call('ZRANGE', KEYS[1], 0, 0)
if #popped == 0 then
	return false
end
redis.call('ZREM', KEYS[1], popped[1])
redis.call('ZADD', KEYS[2], ARGV[1], popped[1])
return popped[1]
`)

// Dequeue claims the highest-priority ready entry. ok is false when the
// queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Entry, bool, error) {
	deadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := claimScript.Run(ctx, q.rdb, []string{keyReady, keyClaimed}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, xerr.Wrap(xerr.Transient, err, "queue dequeue")
	}
	member, ok := res.(string)
	if !ok {
		return Entry{}, false, nil
	}
	e, err := parseEntry(member)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Ack removes a claimed entry once its outcome is persisted.
func (q *Queue) Ack(ctx context.Context, e Entry) error {
	if err := q.rdb.ZRem(ctx, keyClaimed, e.member()).Err(); err != nil {
		return xerr.Wrap(xerr.Transient, err, "queue ack")
	}
	return nil
}

// ReclaimExpired re-enqueues claimed entries whose visibility deadline
// passed, keeping their attempt number. Returns how many moved.
func (q *Queue) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, keyClaimed, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatMilli(now),
	}).Result()
	if err != nil {
		return 0, xerr.Wrap(xerr.Transient, err, "queue reclaim scan")
	}
	moved := 0
	for _, member := range members {
		e, err := parseEntry(member)
		if err != nil {
			q.rdb.ZRem(ctx, keyClaimed, member)
			continue
		}
		removed, err := q.rdb.ZRem(ctx, keyClaimed, member).Result()
		if err != nil {
			return moved, xerr.Wrap(xerr.Transient, err, "queue reclaim")
		}
		if removed == 0 {
			continue // acked between scan and remove
		}
		if err := q.Enqueue(ctx, e.JobID, e.Attempt, e.Priority); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// PromoteDelayed moves delayed entries whose backoff elapsed into the ready
// set. Returns how many moved.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatMilli(now),
	}).Result()
	if err != nil {
		return 0, xerr.Wrap(xerr.Transient, err, "queue promote scan")
	}
	moved := 0
	for _, member := range members {
		e, err := parseEntry(member)
		if err != nil {
			q.rdb.ZRem(ctx, keyDelayed, member)
			continue
		}
		removed, err := q.rdb.ZRem(ctx, keyDelayed, member).Result()
		if err != nil {
			return moved, xerr.Wrap(xerr.Transient, err, "queue promote")
		}
		if removed == 0 {
			continue
		}
		err = q.rdb.ZAdd(ctx, keyReady, redis.Z{Score: readyScore(e.Priority, e.Seq), Member: e.member()}).Err()
		if err != nil {
			return moved, xerr.Wrap(xerr.Transient, err, "queue promote add")
		}
		moved++
	}
	return moved, nil
}

// Remove drops every queued entry for jobID from the ready and delayed sets.
// Cancellation uses this best-effort; a claim already in flight is stopped
// through the dispatcher instead.
func (q *Queue) Remove(ctx context.Context, jobID int64) error {
	for _, key := range []string{keyReady, keyDelayed} {
		members, err := q.rdb.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return xerr.Wrap(xerr.Transient, err, "queue remove scan")
		}
		for _, member := range members {
			e, err := parseEntry(member)
			if err != nil || e.JobID != jobID {
				continue
			}
			if err := q.rdb.ZRem(ctx, key, member).Err(); err != nil {
				return xerr.Wrap(xerr.Transient, err, "queue remove")
			}
		}
	}
	return nil
}

// Depths reports the size of each set, for metrics and the stats endpoint.
func (q *Queue) Depths(ctx context.Context) (ready, claimed, delayed int64, err error) {
	if ready, err = q.rdb.ZCard(ctx, keyReady).Result(); err != nil {
		return 0, 0, 0, xerr.Wrap(xerr.Transient, err, "queue depth")
	}
	if claimed, err = q.rdb.ZCard(ctx, keyClaimed).Result(); err != nil {
		return 0, 0, 0, xerr.Wrap(xerr.Transient, err, "queue depth")
	}
	if delayed, err = q.rdb.ZCard(ctx, keyDelayed).Result(); err != nil {
		return 0, 0, 0, xerr.Wrap(xerr.Transient, err, "queue depth")
	}
	return ready, claimed, delayed, nil
}

func formatMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
