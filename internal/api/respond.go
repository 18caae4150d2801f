// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/clipwork/clipwork/internal/xerr"
)

// maxBodyBytes bounds JSON request bodies; chunk uploads are streamed and
// bounded separately.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string     `json:"error"`
	Class xerr.Class `json:"class"`
}

// statusOf maps an error class to its HTTP status.
func statusOf(class xerr.Class) int {
	switch class {
	case xerr.Validation:
		return http.StatusBadRequest
	case xerr.Authorization:
		return http.StatusForbidden
	case xerr.NotFound:
		return http.StatusNotFound
	case xerr.Processing:
		return http.StatusUnprocessableEntity
	case xerr.Timeout:
		return http.StatusGatewayTimeout
	case xerr.Transient:
		return http.StatusServiceUnavailable
	case xerr.Cancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	class := xerr.ClassOf(err)
	writeJSON(w, statusOf(class), errorBody{Error: xerr.Message(err), Class: class})
}

// decodeJSON reads and strictly decodes a bounded JSON body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerr.Wrap(xerr.Validation, err, "invalid request body")
	}
	return nil
}
