// SPDX-License-Identifier: MIT

// Package sweep runs the background maintenance passes: aging assets past
// the retention window out of the store, collecting stale temp objects, and
// pruning old terminal jobs.
package sweep

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
)

// Pass cadences. Last-run stamps live in the shared store so restarts do not
// reset the schedule.
const (
	retentionEvery = 6 * time.Hour
	tempEvery      = time.Hour
	pruneEvery     = 24 * time.Hour
	tickEvery      = 5 * time.Minute
)

// Config sets the retention windows.
type Config struct {
	RetentionDays    int
	JobRetentionDays int
}

// Sweeper owns the maintenance passes.
type Sweeper struct {
	files  *repo.Files
	jobs   *repo.Jobs
	store  object.Store
	probes *cache.ProbeCache
	rdb    *redis.Client
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New assembles a sweeper.
func New(files *repo.Files, jobs *repo.Jobs, store object.Store, probes *cache.ProbeCache, rdb *redis.Client, cfg Config) *Sweeper {
	return &Sweeper{
		files:  files,
		jobs:   jobs,
		store:  store,
		probes: probes,
		rdb:    rdb,
		cfg:    cfg,
		logger: log.WithComponent("sweep"),
		now:    time.Now,
	}
}

// Run blocks until ctx is done, firing each pass when its interval since the
// stored last-run stamp has elapsed.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		s.runDue(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runDue(ctx context.Context) {
	if s.due(ctx, "retention", retentionEvery) {
		if n, err := s.SweepRetention(ctx); err != nil {
			s.logger.Error().Err(err).Msg("retention sweep failed")
		} else {
			s.logger.Info().Int("reclaimed", n).Msg("retention sweep finished")
		}
	}
	if s.due(ctx, "temp", tempEvery) {
		if n, err := s.SweepTemp(ctx); err != nil {
			s.logger.Error().Err(err).Msg("temp sweep failed")
		} else if n > 0 {
			s.logger.Info().Int("collected", n).Msg("temp sweep finished")
		}
	}
	if s.due(ctx, "jobs", pruneEvery) {
		if n, err := s.PruneJobs(ctx); err != nil {
			s.logger.Error().Err(err).Msg("job prune failed")
		} else if n > 0 {
			s.logger.Info().Int64("pruned", n).Msg("job prune finished")
		}
	}
}

// due checks the pass's last-run stamp and, when the interval elapsed,
// advances it. The SET-with-TTL doubles as a lock between replicas: only the
// instance that created the key runs the pass.
func (s *Sweeper) due(ctx context.Context, name string, interval time.Duration) bool {
	ok, err := s.rdb.SetNX(ctx, "sweep:last:"+name, s.now().Unix(), interval).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("pass", name).Msg("sweep stamp unavailable")
		return false
	}
	return ok
}

// SweepRetention ages assets out of the store. Live assets older than the
// retention window lose their object and are marked deleted; rows already
// soft-deleted past the window are purged for good. Assets still referenced
// as inputs by a pending or processing job are left alone until that job
// reaches a terminal state.
func (s *Sweeper) SweepRetention(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	// rows soft-deleted in an earlier cycle or by the user; their objects may
	// or may not still exist, Delete is idempotent either way
	stale, err := s.files.DeletedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	aged, err := s.files.LiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 && len(aged) == 0 {
		return 0, nil
	}

	protected, err := s.jobs.NonTerminalInputIDs(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, a := range stale {
		if _, inUse := protected[a.ID]; inUse {
			continue
		}
		if err := s.store.Delete(ctx, a.ObjectName); err != nil {
			s.logger.Warn().Err(err).Int64("file_id", a.ID).Msg("object delete failed, keeping row")
			continue
		}
		s.probes.Invalidate(a.ID, a.ObjectName)
		if err := s.files.Purge(ctx, a.ID); err != nil {
			s.logger.Warn().Err(err).Int64("file_id", a.ID).Msg("row purge failed")
			continue
		}
		reclaimed++
	}
	for _, a := range aged {
		if _, inUse := protected[a.ID]; inUse {
			continue
		}
		if err := s.store.Delete(ctx, a.ObjectName); err != nil {
			s.logger.Warn().Err(err).Int64("file_id", a.ID).Msg("object delete failed, keeping asset live")
			continue
		}
		s.probes.Invalidate(a.ID, a.ObjectName)
		if err := s.files.SoftDelete(ctx, a.ID, a.OwnerID); err != nil {
			s.logger.Warn().Err(err).Int64("file_id", a.ID).Msg("aged asset mark failed")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// SweepTemp collects scratch objects under temp/ whose last write is older
// than the temp age limit.
func (s *Sweeper) SweepTemp(ctx context.Context) (int, error) {
	infos, err := s.store.List(ctx, object.TempPrefix)
	if err != nil {
		return 0, err
	}
	now := s.now()
	collected := 0
	for _, info := range infos {
		if now.Sub(info.LastModified) < object.TempMaxAge {
			continue
		}
		if err := s.store.Delete(ctx, info.Name); err != nil {
			s.logger.Warn().Err(err).Str("object", info.Name).Msg("temp delete failed")
			continue
		}
		collected++
	}
	return collected, nil
}

// PruneJobs removes terminal jobs whose completion predates the job
// retention window.
func (s *Sweeper) PruneJobs(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.JobRetentionDays)
	return s.jobs.DeleteOlderThan(ctx, cutoff)
}

// SetClock overrides the time source (tests only).
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }
