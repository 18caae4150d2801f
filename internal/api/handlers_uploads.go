// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipwork/clipwork/internal/xerr"
)

type beginUploadRequest struct {
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type"`
	TotalSize   int64  `json:"total_size"`
	TotalChunks int    `json:"total_chunks"`
}

func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	var req beginUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.uploads.Begin(r.Context(), ownerFrom(r.Context()), req.Filename, req.MediaType, req.TotalSize, req.TotalChunks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, xerr.New(xerr.Validation, "chunk index must be an integer"))
		return
	}
	if r.ContentLength < 0 {
		writeError(w, xerr.New(xerr.Validation, "chunk requires a Content-Length"))
		return
	}
	sess, err := s.uploads.PutChunk(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()), index, r.Body, r.ContentLength)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	asset, err := s.uploads.Complete(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Abort(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
