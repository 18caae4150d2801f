// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/clipwork/clipwork/internal/repo"
)

// progressSink writes job progress to the database, throttled so a chatty
// encode cannot flood SQLite. Values are monotonic per job; the repository
// additionally drops stale writes.
type progressSink struct {
	jobs     *repo.Jobs
	interval time.Duration

	mu       sync.Mutex
	lastPct  float64
	lastSent time.Time
}

func newProgressSink(jobs *repo.Jobs, interval time.Duration) *progressSink {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &progressSink{jobs: jobs, interval: interval, lastPct: -1}
}

// Report forwards pct for jobID if it advances and the throttle window has
// elapsed. 100 always goes through so the terminal update is never dropped.
func (s *progressSink) Report(ctx context.Context, jobID int64, pct float64) {
	s.mu.Lock()
	now := time.Now()
	final := pct >= 100
	if pct <= s.lastPct || (!final && now.Sub(s.lastSent) < s.interval) {
		s.mu.Unlock()
		return
	}
	s.lastPct = pct
	s.lastSent = now
	s.mu.Unlock()

	_ = s.jobs.UpdateProgress(ctx, jobID, pct)
}
