// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration from the
// environment. All knobs have working defaults for a local single-node setup;
// validation is fail-fast so a misconfigured worker never dequeues anything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration of a clipwork worker process.
type Config struct {
	// Logging
	LogLevel string

	// Local state
	DataDir    string // temp subtrees for running jobs live under DataDir/work
	SQLitePath string

	// Shared store (cache, queue, upload sessions)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Object store (S3 API; MinIO-compatible)
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// Ingest API
	ListenAddr string

	// Worker pool
	Workers         int
	TaskTimeout     time.Duration // hard wall-clock limit per job
	TaskSoftTimeout time.Duration // graceful stop before the hard limit
	QueueVisibility time.Duration // claim visibility; must exceed TaskTimeout

	// Media toolchain
	FFmpegBin  string
	FFprobeBin string
	Preset     string // scenario preset: fast | balanced | quality
	HWAccel    string // auto | none | nvenc | qsv | vaapi

	// Ingestion and retention
	MaxUploadSize    int64
	UploadSessionTTL time.Duration
	RetentionDays    int
	JobRetentionDays int
}

// FromEnv builds a Config from the environment, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		LogLevel:         envStr("LOG_LEVEL", "info"),
		DataDir:          envStr("CLIPWORK_DATA_DIR", "/var/lib/clipwork"),
		SQLitePath:       envStr("CLIPWORK_DB_PATH", ""),
		RedisAddr:        envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    envStr("REDIS_PASSWORD", ""),
		S3Endpoint:       envStr("S3_ENDPOINT", ""),
		S3Region:         envStr("S3_REGION", "us-east-1"),
		S3Bucket:         envStr("S3_BUCKET", "clipwork"),
		S3AccessKey:      envStr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envStr("S3_SECRET_KEY", ""),
		ListenAddr:       envStr("CLIPWORK_LISTEN", ":8085"),
		FFmpegBin:        envStr("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:       envStr("FFPROBE_BIN", "ffprobe"),
		Preset:           envStr("ENCODING_PRESET", "balanced"),
		HWAccel:          envStr("HWACCEL", "auto"),
		S3ForcePathStyle: envBool("S3_FORCE_PATH_STYLE", true),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = envInt("WORKER_CONCURRENCY", 4); err != nil {
		return cfg, err
	}
	if cfg.RetentionDays, err = envInt("RETENTION_DAYS", 30); err != nil {
		return cfg, err
	}
	if cfg.JobRetentionDays, err = envInt("JOB_RETENTION_DAYS", 90); err != nil {
		return cfg, err
	}
	if cfg.MaxUploadSize, err = envInt64("MAX_UPLOAD_SIZE", 10<<30); err != nil {
		return cfg, err
	}
	if cfg.TaskTimeout, err = envSeconds("TASK_TIME_LIMIT", 3600); err != nil {
		return cfg, err
	}
	if cfg.TaskSoftTimeout, err = envSeconds("TASK_SOFT_TIME_LIMIT", 3000); err != nil {
		return cfg, err
	}
	if cfg.QueueVisibility, err = envSeconds("QUEUE_VISIBILITY", 4200); err != nil {
		return cfg, err
	}
	if cfg.UploadSessionTTL, err = envSeconds("UPLOAD_SESSION_TTL", 3600); err != nil {
		return cfg, err
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = cfg.DataDir + "/clipwork.db"
	}

	return cfg, cfg.Validate()
}

// Validate enforces the invariants the worker loop depends on.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: WORKER_CONCURRENCY must be >= 1, got %d", c.Workers)
	}
	if c.TaskSoftTimeout >= c.TaskTimeout {
		return fmt.Errorf("config: soft time limit (%s) must be below the hard limit (%s)", c.TaskSoftTimeout, c.TaskTimeout)
	}
	if c.QueueVisibility <= c.TaskTimeout {
		return fmt.Errorf("config: queue visibility (%s) must exceed the task time limit (%s)", c.QueueVisibility, c.TaskTimeout)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("config: RETENTION_DAYS must be >= 1, got %d", c.RetentionDays)
	}
	if c.MaxUploadSize < 1 {
		return fmt.Errorf("config: MAX_UPLOAD_SIZE must be positive")
	}
	switch c.Preset {
	case "fast", "balanced", "quality":
	default:
		return fmt.Errorf("config: unknown ENCODING_PRESET %q", c.Preset)
	}
	switch c.HWAccel {
	case "auto", "none", "nvenc", "qsv", "vaapi":
	default:
		return fmt.Errorf("config: unknown HWACCEL %q", c.HWAccel)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
