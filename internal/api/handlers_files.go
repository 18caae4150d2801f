// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, xerr.New(xerr.Validation, "id must be a positive integer")
	}
	return id, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	assets, err := s.files.ListByOwner(r.Context(), ownerFrom(r.Context()), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if assets == nil {
		assets = []*model.Asset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": assets})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	asset, err := s.files.GetOwned(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// handleDownloadFile streams the object, honoring a single bytes range.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	asset, err := s.files.GetOwned(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	mediaType := asset.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Name))

	if spec := r.Header.Get("Range"); spec != "" {
		start, end, ok := parseRange(spec, asset.Size)
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", asset.Size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		rc, err := s.store.GetRange(r.Context(), asset.ObjectName, start, end)
		if err != nil {
			writeError(w, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, asset.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.Copy(w, rc)
		return
	}

	rc, err := s.store.Get(r.Context(), asset.ObjectName)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	_, _ = io.Copy(w, rc)
}

// parseRange handles a single "bytes=start-end", "bytes=start-" or
// "bytes=-suffix" spec against an object of the given size.
func parseRange(spec string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(spec, "bytes=")
	if !found || strings.Contains(spec, ",") || size == 0 {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	if lo == "" {
		// suffix form: last N bytes
		n, err := strconv.ParseInt(hi, 10, 64)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	if hi == "" {
		return start, size - 1, true
	}
	end, err = strconv.ParseInt(hi, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

// handleDeleteFile soft-deletes the asset. The object itself is reclaimed by
// the retention sweep.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ownerID := ownerFrom(r.Context())
	asset, err := s.files.GetOwned(r.Context(), id, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.files.SoftDelete(r.Context(), id, ownerID); err != nil {
		writeError(w, err)
		return
	}
	s.probes.Invalidate(asset.ID, asset.ObjectName)
	w.WriteHeader(http.StatusNoContent)
}
