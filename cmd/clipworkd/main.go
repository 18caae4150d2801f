// SPDX-License-Identifier: MIT

// clipworkd is the processing daemon: it serves the ingest API, runs the
// worker pool against the shared queue and performs background maintenance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clipwork/clipwork/internal/api"
	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/config"
	"github.com/clipwork/clipwork/internal/log"
	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/processor"
	"github.com/clipwork/clipwork/internal/queue"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
	"github.com/clipwork/clipwork/internal/sweep"
	"github.com/clipwork/clipwork/internal/upload"
	"github.com/clipwork/clipwork/internal/worker"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("clipworkd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "clipwork"})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", version).Str("listen", cfg.ListenAddr).Int("workers", cfg.Workers).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	workDir := filepath.Join(cfg.DataDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	db, err := repo.Open(cfg.SQLitePath, repo.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := cache.NewRedisClient(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	encode, err := ffmpeg.Scenario(cfg.Preset)
	if err != nil {
		return err
	}
	switch cfg.HWAccel {
	case "auto":
		encode.HWAccel = ffmpeg.DetectHWAccel(ctx, cfg.FFmpegBin)
	case "none":
		encode.HWAccel = ""
	default:
		encode.HWAccel = cfg.HWAccel
	}
	if encode.HWAccel != "" {
		logger.Info().Str("hwaccel", encode.HWAccel).Msg("hardware encoding enabled")
	}

	runner := ffmpeg.NewRunner(cfg.FFmpegBin, log.WithComponent("ffmpeg"))
	runner.Timeout = cfg.TaskTimeout
	runner.SoftTimeout = cfg.TaskSoftTimeout
	prober := ffmpeg.NewProber(cfg.FFprobeBin, log.WithComponent("ffprobe"))

	redisCache := cache.NewRedisCache(rdb, logger)
	probes := cache.NewProbeCache(redisCache)
	results := cache.NewResultCache(redisCache)

	files := repo.NewFiles(db)
	jobs := repo.NewJobs(db)
	q := queue.New(rdb, cfg.QueueVisibility)

	proc := processor.New(&processor.Env{
		Store:   store,
		Files:   files,
		Probes:  probes,
		Prober:  prober,
		Runner:  runner,
		Encode:  encode,
		WorkDir: workDir,
		Logger:  log.WithComponent("processor"),
	})

	dispatcher := worker.New(jobs, files, q, results, proc, cfg.Workers)
	uploads := upload.New(redisCache, store, files, cfg.MaxUploadSize, cfg.UploadSessionTTL)
	sweeper := sweep.New(files, jobs, store, probes, rdb, sweep.Config{
		RetentionDays:    cfg.RetentionDays,
		JobRetentionDays: cfg.JobRetentionDays,
	})

	server := api.New(files, jobs, q, dispatcher, uploads, store, probes)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newObjectStore selects S3 when configured and falls back to the in-memory
// store for local development.
func newObjectStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (object.Store, error) {
	if cfg.S3Endpoint == "" && cfg.S3AccessKey == "" {
		logger.Warn().Msg("no object store configured, using in-memory store; objects do not survive restarts")
		return object.NewMemoryStore(), nil
	}
	return object.NewS3Store(ctx, object.S3Config{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		Bucket:         cfg.S3Bucket,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		ForcePathStyle: cfg.S3ForcePathStyle,
	}, logger)
}
