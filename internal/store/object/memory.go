// SPDX-License-Identifier: MIT

package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
// It mirrors the S3 semantics: full-object visibility, inclusive ranges,
// prefix listing.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	data      []byte
	mediaType string
	modTime   time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

// SetClock overrides the modification-time source (tests only).
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Put(ctx context.Context, name string, r io.Reader, size int64, mediaType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: size mismatch, declared %d got %d", name, size, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memObject{data: data, mediaType: mediaType, modTime: m.now()}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", name, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) GetRange(ctx context.Context, name string, start, end int64) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get range %s: %w", name, ErrNotExist)
	}
	size := int64(len(obj.data))
	if start < 0 || start >= size || end < start {
		return nil, fmt.Errorf("get range %s: invalid range %d-%d for size %d", name, start, end, size)
	}
	if end >= size {
		end = size - 1
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *MemoryStore) Stat(ctx context.Context, name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return Info{}, fmt.Errorf("stat %s: %w", name, ErrNotExist)
	}
	return Info{
		Name:         name,
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
		MediaType:    obj.mediaType,
	}, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []Info
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			infos = append(infos, Info{
				Name:         name,
				Size:         int64(len(obj.data)),
				LastModified: obj.modTime,
				MediaType:    obj.mediaType,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (m *MemoryStore) PresignedGet(ctx context.Context, name string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[name]; !ok {
		return "", fmt.Errorf("presign %s: %w", name, ErrNotExist)
	}
	return fmt.Sprintf("memory://%s?expires=%d", name, m.now().Add(ttl).Unix()), nil
}
