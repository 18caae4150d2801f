// SPDX-License-Identifier: MIT

// Package ffmpeg wraps the external media toolchain: argv execution with
// progress supervision and wall-clock limits, probing, and encoder tuning.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/xerr"
)

// Wall-clock defaults; the soft limit asks ffmpeg to finish the current
// output gracefully before the hard kill.
const (
	DefaultTimeout     = 3600 * time.Second
	DefaultSoftTimeout = 3000 * time.Second

	// stderrTailBytes bounds how much tool output travels inside errors.
	stderrTailBytes = 16 * 1024
)

// ProgressFunc receives percentages in [0,100], monotonic per run.
type ProgressFunc func(pct float64)

// Runner executes ffmpeg commands under supervision.
type Runner struct {
	Bin         string
	Timeout     time.Duration
	SoftTimeout time.Duration
	Logger      zerolog.Logger
}

// NewRunner returns a Runner with the default wall-clock limits.
func NewRunner(bin string, logger zerolog.Logger) *Runner {
	return &Runner{Bin: bin, Timeout: DefaultTimeout, SoftTimeout: DefaultSoftTimeout, Logger: logger}
}

var timecodeRe = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseProgressLine extracts the processed position in seconds from one
// stderr line, if present.
func ParseProgressLine(line string) (float64, bool) {
	m := timecodeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(min)*60 + s, true
}

// Run executes ffmpeg with the given args. totalDuration (seconds) scales the
// stderr time= positions into 0..100 for onProgress; pass 0 to disable
// progress reporting. The returned error is classed: Processing on non-zero
// exit, Timeout on the hard limit, Cancelled on context cancellation.
func (r *Runner) Run(ctx context.Context, args []string, totalDuration float64, onProgress ProgressFunc) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	soft := r.SoftTimeout
	if soft <= 0 || soft >= timeout {
		soft = timeout
	}

	fullArgs := append([]string{"-nostdin", "-hide_banner"}, args...)
	cmd := exec.Command(r.Bin, fullArgs...) // #nosec G204 -- argv is built internally

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return xerr.Wrapf(xerr.Processing, err, "ffmpeg failed to start")
	}

	start := time.Now()
	r.Logger.Debug().Strs("args", fullArgs).Msg("ffmpeg started")

	tail := &tailBuffer{max: stderrTailBytes}
	parsed := make(chan struct{})
	go func() {
		defer close(parsed)
		r.consumeStderr(stderr, tail, totalDuration, onProgress)
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timedOut, cancelled atomic.Bool

	softTimer := time.AfterFunc(soft, func() {
		// Ask for a graceful stop; ffmpeg flushes and trailers the output.
		_ = cmd.Process.Signal(os.Interrupt)
	})
	defer softTimer.Stop()

	hardTimer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		_ = cmd.Process.Kill()
	})
	defer hardTimer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		cancelled.Store(true)
		_ = cmd.Process.Kill()
		waitErr = <-done
	}
	<-parsed

	elapsed := time.Since(start)
	switch {
	case cancelled.Load():
		r.Logger.Info().Dur("elapsed", elapsed).Msg("ffmpeg cancelled")
		return xerr.Wrap(xerr.Cancelled, ctx.Err(), "ffmpeg cancelled")
	case timedOut.Load():
		r.Logger.Warn().Dur("elapsed", elapsed).Msg("ffmpeg exceeded wall-clock limit")
		return xerr.Newf(xerr.Timeout, "ffmpeg exceeded %s wall-clock limit", timeout)
	case waitErr != nil:
		return xerr.Newf(xerr.Processing, "ffmpeg exited: %v; stderr tail: %s", waitErr, tail.String())
	}

	r.Logger.Debug().Dur("elapsed", elapsed).Msg("ffmpeg finished")
	if onProgress != nil && totalDuration > 0 {
		onProgress(100)
	}
	return nil
}

// consumeStderr scans ffmpeg stderr, collecting the tail and translating
// time= positions into monotonic percentages. ffmpeg terminates status lines
// with \r, so the scanner splits on both \r and \n.
func (r *Runner) consumeStderr(stderr io.Reader, tail *tailBuffer, total float64, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	scanner.Split(scanCRorLF)

	var lastPct float64 = -1
	var lastEmit time.Time
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)

		if onProgress == nil || total <= 0 {
			continue
		}
		pos, ok := ParseProgressLine(line)
		if !ok {
			continue
		}
		pct := pos / total * 100
		if pct > 100 {
			pct = 100
		}
		// Monotonic, throttled to one emit per processed second of media.
		if pct > lastPct && (lastEmit.IsZero() || time.Since(lastEmit) >= 200*time.Millisecond) {
			lastPct = pct
			lastEmit = time.Now()
			onProgress(pct)
		}
	}
}

func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last max bytes of line-oriented output.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf.WriteString(line)
	t.buf.WriteByte('\n')
	if t.buf.Len() > t.max {
		trimmed := t.buf.Bytes()[t.buf.Len()-t.max:]
		var next bytes.Buffer
		next.Write(trimmed)
		t.buf = next
	}
}

func (t *tailBuffer) String() string { return t.buf.String() }
