// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/media/subtitle"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// maxSubtitleBytes bounds how much subtitle text is read into memory.
const maxSubtitleBytes = 4 << 20

// subtitleStage burns cues into the video. Whatever the source format, the
// cues are normalized to SRT and styled through force_style, so one filter
// invocation covers SRT, VTT, ASS and inline text.
type subtitleStage struct {
	env *Env
}

func (s *subtitleStage) Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error) {
	subCfg := cfg.(*model.SubtitlesConfig)

	cues, err := s.loadCues(ctx, sc, subCfg)
	if err != nil {
		return "", err
	}

	srtPath := scratchFile(sc.Dir, ".srt")
	if err := os.WriteFile(srtPath, []byte(subtitle.FormatSRT(cues)), 0o600); err != nil {
		return "", xerr.Wrap(xerr.Internal, err, "write subtitle file")
	}

	filter := "subtitles=" + escapeFilterPath(srtPath)
	if fs := subtitle.ForceStyle(subCfg.Style, subCfg.Position); fs != "" {
		filter += ":force_style='" + fs + "'"
	}

	out := scratchFile(sc.Dir, ".mp4")
	args := []string{"-i", sc.InputPath, "-vf", filter, "-map", "0:v"}
	if sc.InputInfo.AudioCodec != "" {
		args = append(args, "-map", "0:a", "-c:a", "copy")
	}
	args = append(args, sc.Env.Encode.VideoArgs()...)
	args = append(args, "-movflags", "+faststart", "-y", out)

	if err := sc.Env.Runner.Run(ctx, args, sc.InputInfo.Duration, progress); err != nil {
		return "", err
	}
	return out, nil
}

func (s *subtitleStage) loadCues(ctx context.Context, sc *StageContext, cfg *model.SubtitlesConfig) ([]subtitle.Cue, error) {
	if cfg.SubtitleFileID == nil {
		return subtitle.FromInline(cfg.SubtitleText), nil
	}

	asset, err := sc.Env.Files.GetOwned(ctx, *cfg.SubtitleFileID, sc.OwnerID)
	if err != nil {
		return nil, err
	}
	r, err := sc.Env.Store.Get(ctx, asset.ObjectName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, maxSubtitleBytes))
	if err != nil {
		return nil, xerr.Wrap(xerr.Transient, err, "read subtitle file")
	}
	return subtitle.Parse(cfg.Format, string(raw))
}

// escapeFilterPath escapes a local path for use inside a filter graph value.
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		`,`, `\,`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(p)
}
