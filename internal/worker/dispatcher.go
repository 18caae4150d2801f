// SPDX-License-Identifier: MIT

// Package worker runs the dispatch loop: claiming queued jobs, driving the
// processors, and translating their outcomes into state transitions, retries
// and cache writes.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/processor"
	"github.com/clipwork/clipwork/internal/queue"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/xerr"
)

// Retry backoff bounds.
const (
	retryBase   = 60 * time.Second
	retryCap    = 300 * time.Second
	retryJitter = 0.2

	idleSleep     = 500 * time.Millisecond
	maintainEvery = 15 * time.Second
	progressEvery = 500 * time.Millisecond
)

// Dispatcher owns the worker pool and the cancellation registry.
type Dispatcher struct {
	jobs    *repo.Jobs
	files   *repo.Files
	queue   *queue.Queue
	results *cache.ResultCache
	proc    *processor.Processor
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	running map[int64]context.CancelFunc
}

// New assembles a dispatcher over its collaborators.
func New(jobs *repo.Jobs, files *repo.Files, q *queue.Queue, results *cache.ResultCache, proc *processor.Processor, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		jobs:    jobs,
		files:   files,
		queue:   q,
		results: results,
		proc:    proc,
		workers: workers,
		logger:  log.WithComponent("dispatcher"),
		running: make(map[int64]context.CancelFunc),
	}
}

// Submit enqueues a pending job for dispatch.
func (d *Dispatcher) Submit(ctx context.Context, job *model.Job) error {
	return d.queue.Enqueue(ctx, job.ID, job.RetryCount, job.Priority)
}

// Run blocks until ctx is done, running the worker pool plus a maintenance
// loop that promotes delayed entries and reclaims expired claims.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.workers; i++ {
		g.Go(func() error { return d.workLoop(ctx) })
	}
	g.Go(func() error { return d.maintainLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) workLoop(ctx context.Context) error {
	for {
		entry, ok, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dequeue failed")
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}
		d.handle(ctx, entry)
	}
}

func (d *Dispatcher) maintainLoop(ctx context.Context) error {
	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			if _, err := d.queue.PromoteDelayed(ctx, now); err != nil {
				d.logger.Warn().Err(err).Msg("promote delayed failed")
			}
			if n, err := d.queue.ReclaimExpired(ctx, now); err != nil {
				d.logger.Warn().Err(err).Msg("reclaim failed")
			} else if n > 0 {
				d.logger.Warn().Int("reclaimed", n).Msg("reclaimed expired claims")
			}
			if ready, claimed, delayed, err := d.queue.Depths(ctx); err == nil {
				queueDepth.WithLabelValues("ready").Set(float64(ready))
				queueDepth.WithLabelValues("claimed").Set(float64(claimed))
				queueDepth.WithLabelValues("delayed").Set(float64(delayed))
			}
		}
	}
}

// handle drives one claimed entry to a terminal outcome or a retry. The
// entry is always acked: its outcome is recorded in the database before the
// ack, and unrecorded outcomes are recovered by claim reclaim.
func (d *Dispatcher) handle(ctx context.Context, entry queue.Entry) {
	logger := log.WithJob("dispatcher", entry.JobID, entry.Attempt)

	job, err := d.jobs.Get(ctx, entry.JobID)
	if err != nil {
		// deleted or pruned since enqueue
		logger.Warn().Err(err).Msg("claimed job is gone")
		_ = d.queue.Ack(ctx, entry)
		return
	}
	if entry.Attempt != job.RetryCount {
		logger.Debug().Int("current_attempt", job.RetryCount).Msg("stale queue entry dropped")
		_ = d.queue.Ack(ctx, entry)
		return
	}

	claimed, err := d.jobs.CASStatus(ctx, job.ID, model.StatusPending, model.StatusProcessing)
	if err != nil || !claimed {
		// cancelled, already claimed, or not yet re-pending
		_ = d.queue.Ack(ctx, entry)
		return
	}

	if d.completeFromCache(ctx, job, logger) {
		_ = d.queue.Ack(ctx, entry)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.running[job.ID] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.running, job.ID)
		d.mu.Unlock()
	}()

	sink := newProgressSink(d.jobs, progressEvery)
	progress := func(pct float64) { sink.Report(ctx, job.ID, pct) }

	started := time.Now()
	out, err := d.proc.Process(jobCtx, job, progress)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		d.finish(ctx, job, out, logger)
		jobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())
		jobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
	case xerr.Is(err, xerr.Cancelled):
		logger.Info().Dur("elapsed", elapsed).Msg("job cancelled")
		if _, cerr := d.jobs.CASStatus(ctx, job.ID, model.StatusProcessing, model.StatusCancelled); cerr != nil {
			logger.Warn().Err(cerr).Msg("cancel transition failed")
		}
		jobsProcessed.WithLabelValues(string(job.Type), "cancelled").Inc()
	case xerr.IsRetryable(err) && job.RetryCount < model.MaxRetries:
		d.retry(ctx, job, err, logger)
	default:
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("job failed")
		if uerr := d.jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, xerr.Message(err)); uerr != nil {
			logger.Warn().Err(uerr).Msg("fail transition failed")
		}
		jobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
	}

	_ = d.queue.Ack(ctx, entry)
}

// completeFromCache finishes the job from a prior identical run, if one is
// cached and its outputs still exist.
func (d *Dispatcher) completeFromCache(ctx context.Context, job *model.Job, logger zerolog.Logger) bool {
	cfg, err := model.ParseConfig(job.Type, job.Config)
	if err != nil {
		return false
	}
	cached, ok := d.results.Get(job.Type, model.SortedIDs(cfg.InputIDs()), job.Config)
	if !ok {
		return false
	}
	// the cache is advisory: every referenced output must still resolve
	for _, id := range cached.OutputFileIDs {
		a, err := d.files.Get(ctx, id)
		if err != nil || a.Deleted {
			return false
		}
	}
	if err := d.jobs.UpdateResult(ctx, job.ID, cached.Result, cached.OutputFileIDs); err != nil {
		return false
	}
	if err := d.jobs.UpdateStatus(ctx, job.ID, model.StatusCompleted, ""); err != nil {
		logger.Warn().Err(err).Msg("cached completion transition failed")
		return false
	}
	resultCacheHits.Inc()
	jobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
	logger.Info().Msg("job completed from result cache")
	return true
}

func (d *Dispatcher) finish(ctx context.Context, job *model.Job, out *processor.Outcome, logger zerolog.Logger) {
	if err := d.jobs.UpdateResult(ctx, job.ID, out.Result, out.OutputFileIDs); err != nil {
		logger.Error().Err(err).Msg("result write failed")
		_ = d.jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, "failed to persist result")
		return
	}
	if err := d.jobs.UpdateStatus(ctx, job.ID, model.StatusCompleted, ""); err != nil {
		logger.Warn().Err(err).Msg("complete transition failed")
		return
	}
	if cfg, err := model.ParseConfig(job.Type, job.Config); err == nil {
		d.results.Set(job.Type, model.SortedIDs(cfg.InputIDs()), job.Config, &cache.CachedResult{
			Result:        out.Result,
			OutputFileIDs: out.OutputFileIDs,
		})
	}
	logger.Info().Interface("output_file_ids", out.OutputFileIDs).Msg("job completed")
}

func (d *Dispatcher) retry(ctx context.Context, job *model.Job, cause error, logger zerolog.Logger) {
	attempt, err := d.jobs.IncrementRetry(ctx, job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("retry bookkeeping failed")
		_ = d.jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, xerr.Message(cause))
		return
	}
	if err := d.jobs.UpdateStatus(ctx, job.ID, model.StatusPending, ""); err != nil {
		logger.Warn().Err(err).Msg("retry transition failed")
		return
	}
	delay := Backoff(attempt)
	if err := d.queue.EnqueueDelayed(ctx, job.ID, attempt, job.Priority, time.Now().Add(delay)); err != nil {
		logger.Error().Err(err).Msg("retry enqueue failed")
		_ = d.jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, "failed to schedule retry")
		return
	}
	jobRetries.Inc()
	logger.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("job scheduled for retry")
}

// Cancel stops a job: pending jobs leave the queue, processing jobs have
// their context cancelled. Terminal jobs are rejected.
func (d *Dispatcher) Cancel(ctx context.Context, jobID, ownerID int64) error {
	job, err := d.jobs.GetOwned(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.StatusPending:
		if err := d.jobs.UpdateStatus(ctx, jobID, model.StatusCancelled, ""); err != nil {
			return err
		}
		return d.queue.Remove(ctx, jobID)
	case model.StatusProcessing:
		d.mu.Lock()
		cancel, running := d.running[jobID]
		d.mu.Unlock()
		if running {
			// the worker observes the cancellation and records the transition
			cancel()
			return nil
		}
		// claimed by a worker that died; reclaim would revive it, so close it out
		_, err := d.jobs.CASStatus(ctx, jobID, model.StatusProcessing, model.StatusCancelled)
		return err
	default:
		return xerr.Newf(xerr.Validation, "job %d is %s and cannot be cancelled", jobID, job.Status)
	}
}

// Retry re-queues a failed job at the user's request. Progress and the error
// message reset; the retry counter is history and stays.
func (d *Dispatcher) Retry(ctx context.Context, jobID, ownerID int64) error {
	job, err := d.jobs.GetOwned(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusFailed {
		return xerr.Newf(xerr.Validation, "job %d is %s; only failed jobs can be retried", jobID, job.Status)
	}
	if err := d.jobs.UpdateStatus(ctx, jobID, model.StatusPending, ""); err != nil {
		return err
	}
	if err := d.jobs.ResetProgress(ctx, jobID); err != nil {
		return err
	}
	return d.queue.Enqueue(ctx, jobID, job.RetryCount, job.Priority)
}

// Backoff computes the delay before retry attempt n (1-based): exponential
// from 60 s, capped at 300 s, with ±20 % jitter.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBase << (attempt - 1)
	if d > retryCap {
		d = retryCap
	}
	jitter := 1 + retryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}
