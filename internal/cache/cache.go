// SPDX-License-Identifier: MIT

// Package cache provides the typed key/value adapter over the shared store
// plus deterministic cache-key derivation.
package cache

import (
	"crypto/md5" // #nosec G401 -- key derivation, not integrity
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clipwork/clipwork/internal/model"
)

// Cache is a typed JSON key/value view of the shared store. Get decodes into
// dest and reports a miss with ok=false; errors are reserved for transport
// failures.
type Cache interface {
	Get(key string, dest any) (ok bool, err error)
	Set(key string, value any, ttl time.Duration) error
	Delete(keys ...string) error
	Exists(key string) (bool, error)
}

// Canonical renders params as "k=v&…" with keys sorted lexicographically.
// Equal logical inputs produce identical strings regardless of map order.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// DeriveKey derives "prefix:hex_md5(canonical(params))".
func DeriveKey(prefix string, params map[string]string) string {
	sum := md5.Sum([]byte(Canonical(params))) // #nosec G401
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// joinIDs renders a sorted id set as "1,5,9".
func joinIDs(ids []int64) string {
	sorted := model.SortedIDs(ids)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// hashString is the short object-name hash used inside probe keys.
func hashString(s string) string {
	sum := md5.Sum([]byte(s)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// ProbeKey builds the probe-cache key for an asset's stored object.
func ProbeKey(assetID int64, objectName string) string {
	return fmt.Sprintf("video:info:%d:%s", assetID, hashString(objectName))
}

// ResultKey builds the result-cache key for (type, sorted input ids, config).
// The config payload is canonicalized so key order in the stored JSON does
// not influence the key.
func ResultKey(jobType model.JobType, inputIDs []int64, config []byte) string {
	return DeriveKey("operation:result", map[string]string{
		"type":   string(jobType),
		"ids":    joinIDs(inputIDs),
		"config": CanonicalJSON(config),
	})
}
