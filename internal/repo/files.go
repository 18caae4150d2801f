// SPDX-License-Identifier: MIT

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// Files persists asset records. Binary payloads live in the object store;
// rows here carry metadata and the soft-delete flag.
type Files struct {
	db *sql.DB
}

// NewFiles returns a Files repository over db.
func NewFiles(db *sql.DB) *Files {
	return &Files{db: db}
}

// Create inserts a new asset row and fills in its ID and CreatedAt.
func (f *Files) Create(ctx context.Context, a *model.Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return err
	}
	res, err := f.db.ExecContext(ctx,
		`INSERT INTO files (owner_id, name, object_name, size, media_type, metadata, is_deleted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		a.OwnerID, a.Name, a.ObjectName, a.Size, a.MediaType, meta, a.CreatedAt)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "insert file")
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "file id")
	}
	return nil
}

// Get returns the asset by id. Soft-deleted rows are returned with Deleted
// set; callers decide whether that counts as absent.
func (f *Files) Get(ctx context.Context, id int64) (*model.Asset, error) {
	row := f.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, object_name, size, media_type, metadata, is_deleted, created_at
		 FROM files WHERE id = ?`, id)
	return scanAsset(row)
}

// GetOwned returns the asset only if it belongs to ownerID and is not
// soft-deleted.
func (f *Files) GetOwned(ctx context.Context, id, ownerID int64) (*model.Asset, error) {
	a, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, xerr.Newf(xerr.Authorization, "file %d does not belong to owner %d", id, ownerID)
	}
	if a.Deleted {
		return nil, xerr.Newf(xerr.NotFound, "file %d is deleted", id)
	}
	return a, nil
}

// ListByOwner returns the owner's live assets, newest first.
func (f *Files) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*model.Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := f.db.QueryContext(ctx,
		`SELECT id, owner_id, name, object_name, size, media_type, metadata, is_deleted, created_at
		 FROM files WHERE owner_id = ? AND is_deleted = 0
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "list files")
	}
	defer rows.Close()
	return collectAssets(rows)
}

// UpdateMetadata stores probed media info on an existing row.
func (f *Files) UpdateMetadata(ctx context.Context, id int64, info *model.MediaInfo) error {
	meta, err := marshalMeta(info)
	if err != nil {
		return err
	}
	res, err := f.db.ExecContext(ctx, `UPDATE files SET metadata = ? WHERE id = ?`, meta, id)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "update file metadata")
	}
	return requireRow(res, id, "file")
}

// SoftDelete marks the asset deleted. The object and the row are reclaimed
// later by the retention sweep.
func (f *Files) SoftDelete(ctx context.Context, id, ownerID int64) error {
	res, err := f.db.ExecContext(ctx,
		`UPDATE files SET is_deleted = 1 WHERE id = ? AND owner_id = ? AND is_deleted = 0`, id, ownerID)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "soft delete file")
	}
	return requireRow(res, id, "file")
}

// LiveOlderThan returns live assets whose creation predates cutoff. The
// retention sweep ages these out of the store.
func (f *Files) LiveOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Asset, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT id, owner_id, name, object_name, size, media_type, metadata, is_deleted, created_at
		 FROM files WHERE is_deleted = 0 AND created_at < ?`, cutoff)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "list aged files")
	}
	defer rows.Close()
	return collectAssets(rows)
}

// DeletedOlderThan returns soft-deleted assets whose creation predates cutoff.
// The retention sweep purges these rows after their objects are gone.
func (f *Files) DeletedOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Asset, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT id, owner_id, name, object_name, size, media_type, metadata, is_deleted, created_at
		 FROM files WHERE is_deleted = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "list deleted files")
	}
	defer rows.Close()
	return collectAssets(rows)
}

// Purge removes the row entirely after its object is gone.
func (f *Files) Purge(ctx context.Context, id int64) error {
	_, err := f.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "purge file")
	}
	return nil
}

// StorageUsage sums the live bytes attributed to an owner.
func (f *Files) StorageUsage(ctx context.Context, ownerID int64) (int64, error) {
	var total sql.NullInt64
	err := f.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM files WHERE owner_id = ? AND is_deleted = 0`, ownerID).Scan(&total)
	if err != nil {
		return 0, xerr.Wrap(xerr.Internal, err, "storage usage")
	}
	return total.Int64, nil
}

// Count returns live and deleted row counts, for the stats endpoint.
func (f *Files) Count(ctx context.Context) (live, deleted int64, err error) {
	err = f.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(CASE WHEN is_deleted = 0 THEN 1 END),
		   COUNT(CASE WHEN is_deleted = 1 THEN 1 END)
		 FROM files`).Scan(&live, &deleted)
	if err != nil {
		return 0, 0, xerr.Wrap(xerr.Internal, err, "count files")
	}
	return live, deleted, nil
}

func marshalMeta(info *model.MediaInfo) (sql.NullString, error) {
	if info == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return sql.NullString{}, xerr.Wrap(xerr.Internal, err, "encode metadata")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*model.Asset, error) {
	var (
		a    model.Asset
		meta sql.NullString
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.ObjectName, &a.Size, &a.MediaType, &meta, &a.Deleted, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.New(xerr.NotFound, "file not found")
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "scan file")
	}
	if meta.Valid && meta.String != "" {
		info := &model.MediaInfo{}
		if err := json.Unmarshal([]byte(meta.String), info); err == nil {
			a.Metadata = info
		}
	}
	return &a, nil
}

func collectAssets(rows *sql.Rows) ([]*model.Asset, error) {
	var out []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "iterate files")
	}
	return out, nil
}

func requireRow(res sql.Result, id int64, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "rows affected")
	}
	if n == 0 {
		return xerr.Newf(xerr.NotFound, "%s %d not found", kind, id)
	}
	return nil
}
