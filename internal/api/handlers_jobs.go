// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

type createJobRequest struct {
	Type     model.JobType   `json:"type"`
	Config   json.RawMessage `json:"config"`
	Priority int             `json:"priority,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Priority != 0 && (req.Priority < model.MinPriority || req.Priority > model.MaxPriority) {
		writeError(w, xerr.Newf(xerr.Validation, "priority must be within %d..%d", model.MinPriority, model.MaxPriority))
		return
	}

	cfg, err := model.ParseConfig(req.Type, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}

	// every input must exist, be live and belong to the caller
	ownerID := ownerFrom(r.Context())
	for _, id := range cfg.InputIDs() {
		if _, err := s.files.GetOwned(r.Context(), id, ownerID); err != nil {
			writeError(w, err)
			return
		}
	}

	job := &model.Job{
		OwnerID:      ownerID,
		Type:         req.Type,
		InputFileIDs: cfg.InputIDs(),
		Config:       req.Config,
		Priority:     req.Priority,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Submit(r.Context(), job); err != nil {
		// the row exists but never reached the queue; fail it so the user
		// sees a terminal state instead of a job stuck pending forever
		_ = s.jobs.UpdateStatus(r.Context(), job.ID, model.StatusFailed, "failed to enqueue job")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
	default:
		writeError(w, xerr.Newf(xerr.Validation, "unknown status %q", status))
		return
	}
	limit, offset := pageParams(r)
	jobs, err := s.jobs.List(r.Context(), ownerFrom(r.Context()), status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.GetOwned(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.controlJob(w, r, s.ctrl.Cancel)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	s.controlJob(w, r, s.ctrl.Retry)
}

// controlJob runs a dispatcher action and returns the refreshed job.
func (s *Server) controlJob(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, jobID, ownerID int64) error) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ownerID := ownerFrom(r.Context())
	if err := op(r.Context(), id, ownerID); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.GetOwned(r.Context(), id, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
