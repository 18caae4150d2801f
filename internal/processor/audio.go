// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
)

// audioStage replaces or mixes a video's audio track. The video stream is
// always copied; only audio is re-encoded.
type audioStage struct {
	env *Env
}

func (s *audioStage) Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error) {
	ac := cfg.(*model.AudioOverlayConfig)

	audioAsset, audioPath, audioInfo, err := sc.Env.fetchAsset(ctx, sc.OwnerID, ac.AudioFileID, sc.Dir)
	if err != nil {
		return "", err
	}
	if err := requireAudio(audioInfo, audioAsset.ID); err != nil {
		return "", err
	}

	out := scratchFile(sc.Dir, ".mp4")
	args := buildAudioArgs(ac, sc.InputPath, audioPath, out, sc.InputInfo)

	if err := sc.Env.Runner.Run(ctx, args, sc.InputInfo.Duration, progress); err != nil {
		return "", err
	}
	return out, nil
}

// buildAudioArgs renders the full argv. In replace mode the output ends with
// the shorter stream, so a short overlay track bounds the result; in mix mode
// amix holds the original track's length and the copied video stream bounds
// the output.
func buildAudioArgs(ac *model.AudioOverlayConfig, videoPath, audioPath, out string, videoInfo *model.MediaInfo) []string {
	args := []string{"-i", videoPath, "-i", audioPath}

	filter := buildAudioFilter(ac, videoInfo.AudioCodec != "")
	args = append(args, "-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy")
	args = append(args, ffmpeg.AudioArgs()...)
	if ac.Mode == model.AudioModeReplace || videoInfo.AudioCodec == "" {
		args = append(args, "-shortest")
	}
	return append(args, "-movflags", "+faststart", "-y", out)
}

// buildAudioFilter renders the filter_complex graph for both modes. The
// overlay chain applies trim, delay and gain in that order.
func buildAudioFilter(ac *model.AudioOverlayConfig, videoHasAudio bool) string {
	var overlay strings.Builder
	overlay.WriteString("[1:a]")
	if ac.Duration != nil {
		fmt.Fprintf(&overlay, "atrim=0:%.3f,", *ac.Duration)
	}
	if ac.Offset > 0 {
		ms := int(ac.Offset * 1000)
		fmt.Fprintf(&overlay, "adelay=%d:all=1,", ms)
	}
	fmt.Fprintf(&overlay, "volume=%.3f[ov]", ac.OverlayGain())

	if ac.Mode == model.AudioModeReplace || !videoHasAudio {
		return overlay.String() + ";[ov]acopy[aout]"
	}
	return fmt.Sprintf("%s;[0:a]volume=%.3f[orig];[orig][ov]amix=inputs=2:duration=first:normalize=0[aout]",
		overlay.String(), ac.OriginalGain())
}
