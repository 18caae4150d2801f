// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// joinStage concatenates clips. Without re-encoding it uses the concat
// demuxer with stream copy, which requires matching resolution, frame rate
// and codecs across every input; with re-encoding each input is normalized
// to the first clip's geometry first.
type joinStage struct {
	env *Env
}

type joinInput struct {
	path string
	info *model.MediaInfo
}

func (s *joinStage) Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error) {
	jc := cfg.(*model.JoinConfig)

	// the primary input is already local; fetch the rest
	inputs := []joinInput{{path: sc.InputPath, info: sc.InputInfo}}
	for _, id := range jc.FileIDs[1:] {
		asset, local, info, err := sc.Env.fetchAsset(ctx, sc.OwnerID, id, sc.Dir)
		if err != nil {
			return "", err
		}
		if err := requireVideo(info, asset.ID); err != nil {
			return "", err
		}
		inputs = append(inputs, joinInput{path: local, info: info})
	}

	if !jc.ReEncode {
		if err := checkJoinCompatibility(inputs); err != nil {
			return "", err
		}
		return s.concatCopy(ctx, sc, inputs, progress)
	}
	return s.concatReencode(ctx, sc, inputs, progress)
}

// checkJoinCompatibility rejects stream-copy joins over mismatched inputs.
func checkJoinCompatibility(inputs []joinInput) error {
	first := inputs[0].info
	for i, in := range inputs[1:] {
		if in.info.Width != first.Width || in.info.Height != first.Height {
			return xerr.Newf(xerr.Validation,
				"join input %d has resolution %dx%d, want %dx%d; set re_encode to normalize",
				i+1, in.info.Width, in.info.Height, first.Width, first.Height)
		}
		if in.info.VideoCodec != first.VideoCodec {
			return xerr.Newf(xerr.Validation,
				"join input %d is %s, want %s; set re_encode to normalize",
				i+1, in.info.VideoCodec, first.VideoCodec)
		}
		if !closeEnough(in.info.FrameRate, first.FrameRate) {
			return xerr.Newf(xerr.Validation,
				"join input %d has frame rate %.3f, want %.3f; set re_encode to normalize",
				i+1, in.info.FrameRate, first.FrameRate)
		}
	}
	return nil
}

func closeEnough(a, b float64) bool {
	d := a - b
	return d > -0.01 && d < 0.01
}

func (s *joinStage) concatCopy(ctx context.Context, sc *StageContext, inputs []joinInput, progress ffmpeg.ProgressFunc) (string, error) {
	list := scratchFile(sc.Dir, ".txt")
	var b strings.Builder
	for _, in := range inputs {
		// concat demuxer escaping: single quotes close, escape, reopen
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(in.path, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o600); err != nil {
		return "", xerr.Wrap(xerr.Internal, err, "write concat list")
	}

	out := scratchFile(sc.Dir, ".mp4")
	args := []string{
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", out,
	}
	if err := sc.Env.Runner.Run(ctx, args, totalDuration(inputs), progress); err != nil {
		return "", err
	}
	return out, nil
}

func (s *joinStage) concatReencode(ctx context.Context, sc *StageContext, inputs []joinInput, progress ffmpeg.ProgressFunc) (string, error) {
	first := inputs[0].info
	w, h := first.Width, first.Height
	fps := first.FrameRate
	if fps <= 0 {
		fps = 30
	}

	var args []string
	for _, in := range inputs {
		args = append(args, "-i", in.path)
	}

	// normalize every input to the first clip's geometry, then concat
	var fc strings.Builder
	for i := range inputs {
		fmt.Fprintf(&fc,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%.4f[v%d];",
			i, w, h, w, h, fps, i)
		if inputs[i].info.AudioCodec != "" {
			fmt.Fprintf(&fc, "[%d:a]aresample=48000[a%d];", i, i)
		} else {
			fmt.Fprintf(&fc, "anullsrc=channel_layout=stereo:sample_rate=48000,atrim=0:%.3f[a%d];", inputs[i].info.Duration, i)
		}
	}
	for i := range inputs {
		fmt.Fprintf(&fc, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&fc, "concat=n=%d:v=1:a=1[v][a]", len(inputs))

	out := scratchFile(sc.Dir, ".mp4")
	args = append(args, "-filter_complex", fc.String(), "-map", "[v]", "-map", "[a]")
	args = append(args, sc.Env.Encode.VideoArgs()...)
	args = append(args, ffmpeg.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", "-y", out)

	if err := sc.Env.Runner.Run(ctx, args, totalDuration(inputs), progress); err != nil {
		return "", err
	}
	return out, nil
}

func totalDuration(inputs []joinInput) float64 {
	var total float64
	for _, in := range inputs {
		total += in.info.Duration
	}
	return total
}
