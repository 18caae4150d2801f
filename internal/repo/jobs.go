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

// Jobs persists job rows and enforces the state machine on every status
// write. Queue position lives in Redis; this table is the source of truth
// for job state.
type Jobs struct {
	db *sql.DB
}

// NewJobs returns a Jobs repository over db.
func NewJobs(db *sql.DB) *Jobs {
	return &Jobs{db: db}
}

// Create inserts a pending job and fills in ID/CreatedAt/UpdatedAt.
func (j *Jobs) Create(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.Status = model.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Priority == 0 {
		job.Priority = model.DefaultPriority
	}
	inputs, err := encodeIDs(job.InputFileIDs)
	if err != nil {
		return err
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO jobs (owner_id, type, status, input_file_ids, config, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.OwnerID, job.Type, job.Status, inputs, string(job.Config), job.Priority, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "insert job")
	}
	job.ID, err = res.LastInsertId()
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "job id")
	}
	return nil
}

const jobColumns = `id, owner_id, type, status, input_file_ids, output_file_ids, config,
	error_message, progress, result, retry_count, priority, created_at, updated_at, completed_at`

// Get returns the job by id.
func (j *Jobs) Get(ctx context.Context, id int64) (*model.Job, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetOwned returns the job only if it belongs to ownerID.
func (j *Jobs) GetOwned(ctx context.Context, id, ownerID int64) (*model.Job, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, xerr.Newf(xerr.Authorization, "job %d does not belong to owner %d", id, ownerID)
	}
	return job, nil
}

// List returns the owner's jobs newest first, optionally filtered by status.
func (j *Jobs) List(ctx context.Context, ownerID int64, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateStatus transitions the job, enforcing the state machine. Moving into
// a terminal state stamps completed_at; errMsg is stored on failure.
func (j *Jobs) UpdateStatus(ctx context.Context, id int64, to model.JobStatus, errMsg string) error {
	job, err := j.Get(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(job.Status, to) {
		return xerr.Newf(xerr.Validation, "job %d: illegal transition %s -> %s", id, job.Status, to)
	}
	return j.writeStatus(ctx, id, job.Status, to, errMsg)
}

// CASStatus transitions the job only if it is still in from. Returns false
// without error when another writer got there first. This is the dispatch
// guard: a job cancelled between dequeue and claim stays cancelled.
func (j *Jobs) CASStatus(ctx context.Context, id int64, from, to model.JobStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, xerr.Newf(xerr.Validation, "job %d: illegal transition %s -> %s", id, from, to)
	}
	err := j.writeStatus(ctx, id, from, to, "")
	if err != nil {
		if xerr.ClassOf(err) == xerr.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (j *Jobs) writeStatus(ctx context.Context, id int64, from, to model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if to.Terminal() {
		res, err = j.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
			to, nullStr(errMsg), now, now, id, from)
	} else {
		res, err = j.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, nullStr(errMsg), now, id, from)
	}
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "update job status")
	}
	return requireRow(res, id, "job")
}

// UpdateProgress writes progress monotonically: a stale lower value is a
// no-op, not an error.
func (j *Jobs) UpdateProgress(ctx context.Context, id int64, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND progress < ?`,
		progress, time.Now().UTC(), id, progress)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "update job progress")
	}
	return nil
}

// ResetProgress zeroes progress and the error message, for a user retry.
func (j *Jobs) ResetProgress(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET progress = 0, error_message = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "reset job progress")
	}
	return nil
}

// UpdateResult stores the result document and output file ids on completion.
func (j *Jobs) UpdateResult(ctx context.Context, id int64, result json.RawMessage, outputIDs []int64) error {
	outputs, err := encodeIDs(outputIDs)
	if err != nil {
		return err
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET result = ?, output_file_ids = ?, progress = 100, updated_at = ? WHERE id = ?`,
		nullStr(string(result)), outputs, time.Now().UTC(), id)
	if err != nil {
		return xerr.Wrap(xerr.Internal, err, "update job result")
	}
	return requireRow(res, id, "job")
}

// IncrementRetry bumps retry_count and returns the new value.
func (j *Jobs) IncrementRetry(ctx context.Context, id int64) (int, error) {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return 0, xerr.Wrap(xerr.Internal, err, "increment retry")
	}
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, xerr.Wrap(xerr.Internal, err, "read retry count")
	}
	return n, nil
}

// Statistics is the per-status job census plus average completion time.
type Statistics struct {
	ByStatus       map[model.JobStatus]int64 `json:"by_status"`
	Total          int64                     `json:"total"`
	AvgCompleteSec float64                   `json:"avg_complete_seconds"`
}

// Stats aggregates job counts by status and the mean wall time of completed
// jobs.
func (j *Jobs) Stats(ctx context.Context) (*Statistics, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "job stats")
	}
	defer rows.Close()

	stats := &Statistics{ByStatus: make(map[model.JobStatus]int64)}
	for rows.Next() {
		var (
			s model.JobStatus
			n int64
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, xerr.Wrap(xerr.Internal, err, "scan job stats")
		}
		stats.ByStatus[s] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "iterate job stats")
	}

	var avg sql.NullFloat64
	err = j.db.QueryRowContext(ctx,
		`SELECT AVG((julianday(completed_at) - julianday(created_at)) * 86400.0)
		 FROM jobs WHERE status = ? AND completed_at IS NOT NULL`,
		model.StatusCompleted).Scan(&avg)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "avg completion")
	}
	stats.AvgCompleteSec = avg.Float64
	return stats, nil
}

// DeleteOlderThan removes terminal jobs completed before cutoff and returns
// how many went.
func (j *Jobs) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, xerr.Wrap(xerr.Internal, err, "prune jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, xerr.Wrap(xerr.Internal, err, "rows affected")
	}
	return n, nil
}

// NonTerminalInputIDs returns the set of file ids referenced as inputs by any
// job that is still pending or processing. The retention sweep must not
// reclaim these.
func (j *Jobs) NonTerminalInputIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT input_file_ids FROM jobs WHERE status IN (?, ?)`,
		model.StatusPending, model.StatusProcessing)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "non-terminal inputs")
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, xerr.Wrap(xerr.Internal, err, "scan inputs")
		}
		var list []int64
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			continue
		}
		for _, id := range list {
			ids[id] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "iterate inputs")
	}
	return ids, nil
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", xerr.Wrap(xerr.Internal, err, "encode ids")
	}
	return string(b), nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job      model.Job
		inputs   string
		outputs  sql.NullString
		config   string
		errMsg   sql.NullString
		result   sql.NullString
		complete sql.NullTime
	)
	err := row.Scan(&job.ID, &job.OwnerID, &job.Type, &job.Status, &inputs, &outputs, &config,
		&errMsg, &job.Progress, &result, &job.RetryCount, &job.Priority,
		&job.CreatedAt, &job.UpdatedAt, &complete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.New(xerr.NotFound, "job not found")
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "scan job")
	}
	job.Config = json.RawMessage(config)
	if err := json.Unmarshal([]byte(inputs), &job.InputFileIDs); err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "decode input ids")
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &job.OutputFileIDs); err != nil {
			return nil, xerr.Wrap(xerr.Internal, err, "decode output ids")
		}
	}
	job.ErrorMessage = errMsg.String
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if complete.Valid {
		t := complete.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "iterate jobs")
	}
	return out, nil
}
