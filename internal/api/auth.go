// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"strconv"
)

// ownerHeader names the caller. The gateway in front authenticates and sets
// it; the daemon trusts it as-is.
const ownerHeader = "X-Owner-ID"

type ctxKey int

const ownerKey ctxKey = iota

// ownerAuth rejects requests without a usable owner id and stashes it in the
// request context.
func (s *Server) ownerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(ownerHeader), 10, 64)
		if err != nil || id < 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid " + ownerHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, id)))
	})
}

func ownerFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ownerKey).(int64)
	return id
}
