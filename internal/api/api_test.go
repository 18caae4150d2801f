// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/queue"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
	"github.com/clipwork/clipwork/internal/upload"
	"github.com/clipwork/clipwork/internal/worker"
)

type env struct {
	srv   *httptest.Server
	files *repo.Files
	jobs  *repo.Jobs
	queue *queue.Queue
	store *object.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repo.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	files := repo.NewFiles(db)
	jobs := repo.NewJobs(db)
	q := queue.New(rdb, time.Minute)
	store := object.NewMemoryStore()
	redisCache := cache.NewRedisCache(rdb, log.Base())
	probes := cache.NewProbeCache(redisCache)
	results := cache.NewResultCache(redisCache)
	uploads := upload.New(redisCache, store, files, 1<<20, time.Hour)
	ctrl := worker.New(jobs, files, q, results, nil, 1)

	srv := httptest.NewServer(New(files, jobs, q, ctrl, uploads, store, probes).Router())
	t.Cleanup(srv.Close)

	return &env{srv: srv, files: files, jobs: jobs, queue: q, store: store}
}

// do issues a request as owner 1 unless owner is overridden via headers.
func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set(ownerHeader, "1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *env) addAsset(t *testing.T, ownerID int64, name, content string) *model.Asset {
	t.Helper()
	ctx := context.Background()
	a := &model.Asset{
		OwnerID:    ownerID,
		Name:       name,
		ObjectName: fmt.Sprintf("assets/%d/%s", ownerID, name),
		Size:       int64(len(content)),
		MediaType:  "video/mp4",
	}
	require.NoError(t, e.files.Create(ctx, a))
	require.NoError(t, e.store.Put(ctx, a.ObjectName, strings.NewReader(content), a.Size, a.MediaType))
	return a
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/files", nil)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/files", nil, map[string]string{ownerHeader: "zero"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// healthz and metrics stay open
	resp, err = e.srv.Client().Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadFlow(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/uploads", beginUploadRequest{
		Filename:    "clip.mp4",
		MediaType:   "video/mp4",
		TotalSize:   11,
		TotalChunks: 2,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[model.UploadSession](t, resp)
	require.NotEmpty(t, sess.ID)

	resp = e.do(t, http.MethodPut, "/v1/uploads/"+sess.ID+"/chunks/0", "hello ", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPut, "/v1/uploads/"+sess.ID+"/chunks/1", "world", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/uploads/"+sess.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	asset := decode[model.Asset](t, resp)
	assert.Equal(t, "clip.mp4", asset.Name)
	assert.Equal(t, int64(11), asset.Size)

	resp = e.do(t, http.MethodGet, "/v1/files", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]model.Asset](t, resp)
	require.Len(t, list["files"], 1)

	// completing a second time is a 404: the session is gone
	resp = e.do(t, http.MethodPost, "/v1/uploads/"+sess.ID+"/complete", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadChunkIndexValidation(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/v1/uploads", beginUploadRequest{
		Filename: "clip.mp4", MediaType: "video/mp4", TotalSize: 4, TotalChunks: 2,
	}, nil)
	sess := decode[model.UploadSession](t, resp)

	resp = e.do(t, http.MethodPut, "/v1/uploads/"+sess.ID+"/chunks/nine", "xx", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/v1/uploads/"+sess.ID+"/chunks/5", "xx", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/v1/uploads/"+sess.ID, nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDownloadWithRanges(t *testing.T) {
	e := newEnv(t)
	asset := e.addAsset(t, 1, "clip.mp4", "hello chunked world")
	base := fmt.Sprintf("/v1/files/%d/download", asset.ID)

	resp := e.do(t, http.MethodGet, base, nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello chunked world", string(data))

	resp = e.do(t, http.MethodGet, base, nil, map[string]string{"Range": "bytes=6-12"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 6-12/19", resp.Header.Get("Content-Range"))
	data, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "chunked", string(data))

	resp = e.do(t, http.MethodGet, base, nil, map[string]string{"Range": "bytes=-5"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	data, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	resp = e.do(t, http.MethodGet, base, nil, map[string]string{"Range": "bytes=99-"})
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */19", resp.Header.Get("Content-Range"))
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		spec       string
		start, end int64
		ok         bool
	}{
		{"bytes=0-9", 0, 9, true},
		{"bytes=5-", 5, 18, true},
		{"bytes=-4", 15, 18, true},
		{"bytes=0-999", 0, 18, true},
		{"bytes=19-", 0, 0, false},
		{"bytes=5-3", 0, 0, false},
		{"bytes=0-3,5-9", 0, 0, false},
		{"items=0-3", 0, 0, false},
	}
	for _, tc := range cases {
		start, end, ok := parseRange(tc.spec, 19)
		assert.Equal(t, tc.ok, ok, tc.spec)
		if tc.ok {
			assert.Equal(t, tc.start, start, tc.spec)
			assert.Equal(t, tc.end, end, tc.spec)
		}
	}
}

func TestDeleteFile(t *testing.T) {
	e := newEnv(t)
	asset := e.addAsset(t, 1, "clip.mp4", "abc")
	path := fmt.Sprintf("/v1/files/%d", asset.ID)

	resp := e.do(t, http.MethodDelete, path, nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, path, nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, path, nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileOwnership(t *testing.T) {
	e := newEnv(t)
	asset := e.addAsset(t, 2, "other.mp4", "abc")

	resp := e.do(t, http.MethodGet, fmt.Sprintf("/v1/files/%d", asset.ID), nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateJob(t *testing.T) {
	e := newEnv(t)
	a := e.addAsset(t, 1, "a.mp4", "aaa")
	b := e.addAsset(t, 1, "b.mp4", "bbb")

	resp := e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:   model.JobJoin,
		Config: json.RawMessage(fmt.Sprintf(`{"file_ids":[%d,%d]}`, a.ID, b.ID)),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[model.Job](t, resp)
	assert.Equal(t, model.StatusPending, job.Status)
	assert.Equal(t, model.DefaultPriority, job.Priority)
	assert.Equal(t, []int64{a.ID, b.ID}, job.InputFileIDs)

	entry, ok, err := e.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, entry.JobID)
}

func TestCreateJobValidation(t *testing.T) {
	e := newEnv(t)
	a := e.addAsset(t, 1, "a.mp4", "aaa")

	// one input too few
	resp := e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:   model.JobJoin,
		Config: json.RawMessage(fmt.Sprintf(`{"file_ids":[%d]}`, a.ID)),
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown type
	resp = e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:   "transmogrify",
		Config: json.RawMessage(`{}`),
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// missing input
	resp = e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:   model.JobJoin,
		Config: json.RawMessage(fmt.Sprintf(`{"file_ids":[%d,999]}`, a.ID)),
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// priority out of bounds
	resp = e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:     model.JobJoin,
		Config:   json.RawMessage(fmt.Sprintf(`{"file_ids":[%d,%d]}`, a.ID, a.ID)),
		Priority: 11,
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndRetryJob(t *testing.T) {
	e := newEnv(t)
	a := e.addAsset(t, 1, "a.mp4", "aaa")
	b := e.addAsset(t, 1, "b.mp4", "bbb")

	resp := e.do(t, http.MethodPost, "/v1/jobs", createJobRequest{
		Type:   model.JobJoin,
		Config: json.RawMessage(fmt.Sprintf(`{"file_ids":[%d,%d]}`, a.ID, b.ID)),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[model.Job](t, resp)

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/cancel", job.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Job](t, resp)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// retry only applies to failed jobs
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/retry", job.ID), nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx := context.Background()
	failed := &model.Job{
		OwnerID:      1,
		Type:         model.JobJoin,
		InputFileIDs: []int64{a.ID, b.ID},
		Config:       json.RawMessage(fmt.Sprintf(`{"file_ids":[%d,%d]}`, a.ID, b.ID)),
	}
	require.NoError(t, e.jobs.Create(ctx, failed))
	require.NoError(t, e.jobs.UpdateStatus(ctx, failed.ID, model.StatusProcessing, ""))
	require.NoError(t, e.jobs.UpdateStatus(ctx, failed.ID, model.StatusFailed, "boom"))

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/retry", failed.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[model.Job](t, resp)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestListJobsFilter(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/v1/jobs?status=sideways", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/jobs?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]model.Job](t, resp)
	assert.Empty(t, list["jobs"])
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.addAsset(t, 1, "a.mp4", "aaaa")

	resp := e.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[statsResponse](t, resp)
	assert.Equal(t, int64(1), stats.Files.Live)
	assert.Equal(t, int64(4), stats.StorageBytes)
	assert.Zero(t, stats.Queue.Ready)
}
