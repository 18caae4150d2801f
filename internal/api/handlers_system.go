// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/clipwork/clipwork/internal/repo"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Jobs  *repo.Statistics `json:"jobs"`
	Queue struct {
		Ready   int64 `json:"ready"`
		Claimed int64 `json:"claimed"`
		Delayed int64 `json:"delayed"`
	} `json:"queue"`
	Files struct {
		Live    int64 `json:"live"`
		Deleted int64 `json:"deleted"`
	} `json:"files"`
	StorageBytes int64 `json:"storage_bytes"`
}

// handleStats reports the job census, queue depths, file counts and the
// caller's storage usage.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		resp statsResponse
		err  error
	)
	if resp.Jobs, err = s.jobs.Stats(ctx); err != nil {
		writeError(w, err)
		return
	}
	if resp.Queue.Ready, resp.Queue.Claimed, resp.Queue.Delayed, err = s.queue.Depths(ctx); err != nil {
		writeError(w, err)
		return
	}
	if resp.Files.Live, resp.Files.Deleted, err = s.files.Count(ctx); err != nil {
		writeError(w, err)
		return
	}
	if resp.StorageBytes, err = s.files.StorageUsage(ctx, ownerFrom(ctx)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
