// SPDX-License-Identifier: MIT

// Package upload implements chunked ingestion: a Redis-backed session per
// upload, chunk objects under temp/chunks/, and streamed assembly into a
// final asset on completion.
package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
	"github.com/clipwork/clipwork/internal/xerr"
)

// DefaultSessionTTL is how long an idle upload session survives. Every chunk
// receipt refreshes it.
const DefaultSessionTTL = time.Hour

// MaxChunks bounds a single upload.
const MaxChunks = 10000

// Assembler manages chunked upload sessions.
type Assembler struct {
	sessions cache.Cache
	store    object.Store
	files    *repo.Files
	ttl      time.Duration
	maxSize  int64
	logger   zerolog.Logger
}

// New returns an Assembler. maxSize bounds the declared total size of one
// upload; ttl <= 0 selects the default.
func New(sessions cache.Cache, store object.Store, files *repo.Files, maxSize int64, ttl time.Duration) *Assembler {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Assembler{
		sessions: sessions,
		store:    store,
		files:    files,
		ttl:      ttl,
		maxSize:  maxSize,
		logger:   log.WithComponent("upload"),
	}
}

func sessionKey(id string) string { return "upload:session:" + id }

func chunkObject(sessionID string, index int) string {
	return fmt.Sprintf("%s%s_%d", object.ChunkPrefix, sessionID, index)
}

// Begin opens a new session for a file of totalSize bytes in totalChunks
// parts.
func (a *Assembler) Begin(ctx context.Context, ownerID int64, filename, mediaType string, totalSize int64, totalChunks int) (*model.UploadSession, error) {
	if filename == "" {
		return nil, xerr.New(xerr.Validation, "filename is required")
	}
	if totalSize <= 0 || totalSize > a.maxSize {
		return nil, xerr.Newf(xerr.Validation, "total size must be within 1..%d bytes", a.maxSize)
	}
	if totalChunks <= 0 || totalChunks > MaxChunks {
		return nil, xerr.Newf(xerr.Validation, "total chunks must be within 1..%d", MaxChunks)
	}

	s := &model.UploadSession{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Filename:    path.Base(filename),
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
		MediaType:   mediaType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.sessions.Set(sessionKey(s.ID), s, a.ttl); err != nil {
		return nil, err
	}
	a.logger.Info().Str("upload_id", s.ID).Int64("owner_id", ownerID).
		Int("chunks", totalChunks).Int64("size", totalSize).Msg("upload session opened")
	return s, nil
}

func (a *Assembler) session(ctx context.Context, id string, ownerID int64) (*model.UploadSession, error) {
	var s model.UploadSession
	ok, err := a.sessions.Get(sessionKey(id), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerr.Newf(xerr.NotFound, "upload session %s not found or expired", id)
	}
	if s.OwnerID != ownerID {
		return nil, xerr.Newf(xerr.Authorization, "upload session %s does not belong to owner %d", id, ownerID)
	}
	return &s, nil
}

// PutChunk stores chunk index for the session. Re-sending a chunk overwrites
// the previous copy, so retries are safe.
func (a *Assembler) PutChunk(ctx context.Context, id string, ownerID int64, index int, r io.Reader, size int64) (*model.UploadSession, error) {
	s, err := a.session(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= s.TotalChunks {
		return nil, xerr.Newf(xerr.Validation, "chunk index %d out of range 0..%d", index, s.TotalChunks-1)
	}
	if size <= 0 || size > s.TotalSize {
		return nil, xerr.Newf(xerr.Validation, "chunk size %d out of range", size)
	}

	if err := a.store.Put(ctx, chunkObject(id, index), r, size, "application/octet-stream"); err != nil {
		return nil, err
	}

	s.MarkChunk(index)
	if err := a.sessions.Set(sessionKey(id), s, a.ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// Complete assembles the chunks in order into a new asset. The declared
// total size must match the sum of the chunks exactly; chunk objects and the
// session are removed on success.
func (a *Assembler) Complete(ctx context.Context, id string, ownerID int64) (*model.Asset, error) {
	s, err := a.session(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !s.Complete() {
		return nil, xerr.Newf(xerr.Validation, "upload %s has %d of %d chunks", id, len(s.Received), s.TotalChunks)
	}

	var assembled int64
	infos := make([]object.Info, s.TotalChunks)
	for i := 0; i < s.TotalChunks; i++ {
		info, err := a.store.Stat(ctx, chunkObject(id, i))
		if err != nil {
			return nil, xerr.Wrapf(xerr.Validation, err, "chunk %d is missing", i)
		}
		infos[i] = info
		assembled += info.Size
	}
	if assembled != s.TotalSize {
		return nil, xerr.Newf(xerr.Validation,
			"assembled size %d does not match declared size %d", assembled, s.TotalSize)
	}

	objectName := fmt.Sprintf("%s%d/%s_%s", object.AssetPrefixRoot, ownerID, uuid.NewString(), s.Filename)

	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < s.TotalChunks; i++ {
			r, err := a.store.Get(ctx, chunkObject(id, i))
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(pw, r)
			r.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	if err := a.store.Put(ctx, objectName, pr, s.TotalSize, s.MediaType); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}

	asset := &model.Asset{
		OwnerID:    ownerID,
		Name:       s.Filename,
		ObjectName: objectName,
		Size:       s.TotalSize,
		MediaType:  s.MediaType,
	}
	if err := a.files.Create(ctx, asset); err != nil {
		_ = a.store.Delete(ctx, objectName)
		return nil, err
	}

	a.cleanup(ctx, s)
	a.logger.Info().Str("upload_id", id).Int64("file_id", asset.ID).
		Int64("size", asset.Size).Msg("upload assembled")
	return asset, nil
}

// Abort discards the session and its chunks.
func (a *Assembler) Abort(ctx context.Context, id string, ownerID int64) error {
	s, err := a.session(ctx, id, ownerID)
	if err != nil {
		return err
	}
	a.cleanup(ctx, s)
	a.logger.Info().Str("upload_id", id).Msg("upload aborted")
	return nil
}

// cleanup removes chunk objects and the session record, tolerating partial
// failure; the temp sweep collects whatever survives.
func (a *Assembler) cleanup(ctx context.Context, s *model.UploadSession) {
	for i := 0; i < s.TotalChunks; i++ {
		if err := a.store.Delete(ctx, chunkObject(s.ID, i)); err != nil {
			a.logger.Warn().Err(err).Str("upload_id", s.ID).Int("chunk", i).Msg("chunk cleanup failed")
		}
	}
	if err := a.sessions.Delete(sessionKey(s.ID)); err != nil {
		a.logger.Warn().Err(err).Str("upload_id", s.ID).Msg("session cleanup failed")
	}
}
