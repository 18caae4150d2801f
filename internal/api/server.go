// SPDX-License-Identifier: MIT

// Package api is the HTTP ingest surface: chunked uploads, asset access and
// the job lifecycle. Identity arrives as a trusted X-Owner-ID header set by
// the gateway in front; everything under /v1 is owner-scoped.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/queue"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
	"github.com/clipwork/clipwork/internal/upload"
)

// JobControl is the slice of the dispatcher the API drives.
type JobControl interface {
	Submit(ctx context.Context, job *model.Job) error
	Cancel(ctx context.Context, jobID, ownerID int64) error
	Retry(ctx context.Context, jobID, ownerID int64) error
}

// Server holds the handler dependencies.
type Server struct {
	files   *repo.Files
	jobs    *repo.Jobs
	queue   *queue.Queue
	ctrl    JobControl
	uploads *upload.Assembler
	store   object.Store
	probes  *cache.ProbeCache
	logger  zerolog.Logger
}

// New assembles the API server.
func New(files *repo.Files, jobs *repo.Jobs, q *queue.Queue, ctrl JobControl, uploads *upload.Assembler, store object.Store, probes *cache.ProbeCache) *Server {
	return &Server{
		files:   files,
		jobs:    jobs,
		queue:   q,
		ctrl:    ctrl,
		uploads: uploads,
		store:   store,
		probes:  probes,
		logger:  log.WithComponent("api"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.ownerAuth)

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", s.handleBeginUpload)
			r.Put("/{id}/chunks/{index}", s.handlePutChunk)
			r.Post("/{id}/complete", s.handleCompleteUpload)
			r.Delete("/{id}", s.handleAbortUpload)
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.handleListFiles)
			r.Get("/{id}", s.handleGetFile)
			r.Get("/{id}/download", s.handleDownloadFile)
			r.Delete("/{id}", s.handleDeleteFile)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
			r.Post("/{id}/retry", s.handleRetryJob)
		})

		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
