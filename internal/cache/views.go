// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/json"
	"time"

	"github.com/clipwork/clipwork/internal/model"
)

// TTLs of the two typed views.
const (
	ProbeTTL  = 24 * time.Hour
	ResultTTL = 7 * 24 * time.Hour
)

// ProbeCache memoizes ffprobe results per stored object.
type ProbeCache struct {
	c Cache
}

// NewProbeCache wraps c as the probe view.
func NewProbeCache(c Cache) *ProbeCache { return &ProbeCache{c: c} }

// Get returns the cached probe for the asset's object, if any.
func (p *ProbeCache) Get(assetID int64, objectName string) (*model.MediaInfo, bool) {
	var info model.MediaInfo
	ok, err := p.c.Get(ProbeKey(assetID, objectName), &info)
	if err != nil || !ok {
		return nil, false
	}
	return &info, true
}

// Set stores a probe result for 24 h.
func (p *ProbeCache) Set(assetID int64, objectName string, info *model.MediaInfo) {
	if info == nil {
		return
	}
	_ = p.c.Set(ProbeKey(assetID, objectName), info, ProbeTTL)
}

// Invalidate drops the probe entry; called on asset soft-delete.
func (p *ProbeCache) Invalidate(assetID int64, objectName string) {
	_ = p.c.Delete(ProbeKey(assetID, objectName))
}

// CachedResult is the payload of the result cache: the prior job's result
// plus the output asset ids it produced. The entry is advisory; consumers
// must verify the ids still resolve before reusing them.
type CachedResult struct {
	Result        json.RawMessage `json:"result"`
	OutputFileIDs []int64         `json:"output_file_ids"`
}

// ResultCache memoizes completed operation results keyed by
// (type, sorted input ids, canonical config).
type ResultCache struct {
	c Cache
}

// NewResultCache wraps c as the result view.
func NewResultCache(c Cache) *ResultCache { return &ResultCache{c: c} }

// Get returns the cached result for the job signature, if any.
func (r *ResultCache) Get(jobType model.JobType, inputIDs []int64, config []byte) (*CachedResult, bool) {
	var res CachedResult
	ok, err := r.c.Get(ResultKey(jobType, inputIDs, config), &res)
	if err != nil || !ok {
		return nil, false
	}
	return &res, true
}

// Set stores a completed result for 7 days. Races on concurrent set are
// benign; last write wins.
func (r *ResultCache) Set(jobType model.JobType, inputIDs []int64, config []byte, res *CachedResult) {
	_ = r.c.Set(ResultKey(jobType, inputIDs, config), res, ResultTTL)
}
