// SPDX-License-Identifier: MIT

// Package object defines the object-store adapter: streamed put/get/delete,
// byte-range reads, presigned URLs and prefix listing.
package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned when the named object is absent.
var ErrNotExist = errors.New("object does not exist")

// Info describes one stored object.
type Info struct {
	Name         string
	Size         int64
	LastModified time.Time
	MediaType    string
}

// Store is the object-store contract. Streaming methods never buffer whole
// objects; a put is either observable in full under its name or the name is
// absent.
type Store interface {
	// Put streams size bytes from r into the object called name.
	Put(ctx context.Context, name string, r io.Reader, size int64, mediaType string) error
	// Get opens the full object for reading.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// GetRange opens bytes [start..end] (inclusive) for reading.
	GetRange(ctx context.Context, name string, start, end int64) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	Stat(ctx context.Context, name string) (Info, error)
	// List returns every object under prefix.
	List(ctx context.Context, prefix string) ([]Info, error)
	// PresignedGet returns a short-lived URL granting direct read access.
	PresignedGet(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// Namespaces inside the bucket.
const (
	TempPrefix      = "temp/"
	ChunkPrefix     = "temp/chunks/"
	TempMaxAge      = 24 * time.Hour
	AssetPrefixRoot = "assets/"
)
