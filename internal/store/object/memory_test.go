// SPDX-License-Identifier: MIT

package object

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetStat(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	payload := "0123456789"
	require.NoError(t, s.Put(ctx, "assets/1/a.mp4", strings.NewReader(payload), 10, "video/mp4"))

	r, err := s.Get(ctx, "assets/1/a.mp4")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))

	info, err := s.Stat(ctx, "assets/1/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "video/mp4", info.MediaType)
}

func TestMemoryStore_PutSizeMismatch(t *testing.T) {
	s := NewMemoryStore()
	err := s.Put(context.Background(), "x", strings.NewReader("abc"), 5, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size mismatch")

	exists, _ := s.Exists(context.Background(), "x")
	assert.False(t, exists, "failed put must leave no object behind")
}

func TestMemoryStore_GetRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "obj", strings.NewReader("0123456789"), 10, "application/octet-stream"))

	r, err := s.GetRange(ctx, "obj", 2, 5)
	require.NoError(t, err)
	got, _ := io.ReadAll(r)
	assert.Equal(t, "2345", string(got), "range is inclusive on both ends")

	// end beyond the object clamps
	r, err = s.GetRange(ctx, "obj", 8, 100)
	require.NoError(t, err)
	got, _ = io.ReadAll(r)
	assert.Equal(t, "89", string(got))

	_, err = s.GetRange(ctx, "obj", 10, 12)
	assert.Error(t, err, "start past the end is invalid")
}

func TestMemoryStore_NotExist(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = s.Stat(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotExist)

	exists, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_ListPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, name := range []string{"temp/chunks/u1_0", "temp/chunks/u1_1", "assets/1/a.mp4"} {
		require.NoError(t, s.Put(ctx, name, strings.NewReader("x"), 1, "application/octet-stream"))
	}

	infos, err := s.List(ctx, "temp/chunks/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "temp/chunks/u1_0", infos[0].Name)
	assert.Equal(t, "temp/chunks/u1_1", infos[1].Name)
}

func TestMemoryStore_PresignedGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "obj", strings.NewReader("x"), 1, "text/plain"))

	url, err := s.PresignedGet(ctx, "obj", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "obj")

	_, err = s.PresignedGet(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, ErrNotExist)
}
