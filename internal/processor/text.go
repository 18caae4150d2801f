// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
)

// textStage draws styled text onto the video with drawtext. Rotated text goes
// through a transparent canvas that is rotated and composited back, since
// drawtext itself cannot rotate.
type textStage struct {
	env *Env
}

func (s *textStage) Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error) {
	tc := cfg.(*model.TextOverlayConfig)
	out := scratchFile(sc.Dir, ".mp4")

	draw := buildDrawtext(tc, sc.InputInfo.Duration)

	args := []string{"-i", sc.InputPath}
	if tc.Rotation != 0 {
		graph := rotatedTextGraph(draw, tc.Rotation, sc.InputInfo)
		args = append(args, "-filter_complex", graph, "-map", "[vout]")
	} else {
		args = append(args, "-vf", draw, "-map", "0:v")
	}
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

// rotatedTextGraph draws the text on a transparent canvas, rotates it and
// composites the result over the input.
func rotatedTextGraph(draw string, degrees float64, info *model.MediaInfo) string {
	return fmt.Sprintf(
		"color=c=black@0.0:s=%dx%d:r=25[canvas];[canvas]%s[txt];[txt]rotate=%.4f*PI/180:c=none[rot];[0:v][rot]overlay=0:0:shortest=1[vout]",
		info.Width, info.Height, draw, degrees)
}

// buildDrawtext renders the full drawtext filter for the config.
// videoDuration anchors end-relative animation windows when end_time is
// absent.
func buildDrawtext(tc *model.TextOverlayConfig, videoDuration float64) string {
	var parts []string
	parts = append(parts, "text='"+escapeDrawtext(tc.Text)+"'")

	if tc.Style.FontFamily != "" {
		parts = append(parts, "font='"+escapeDrawtext(tc.Style.FontFamily)+"'")
	}
	parts = append(parts, fmt.Sprintf("fontsize=%d", tc.Style.FontSize))

	alpha := 1.0
	if tc.Style.Alpha != nil {
		alpha = *tc.Style.Alpha
	}
	if tc.Opacity != nil {
		alpha *= *tc.Opacity
	}
	parts = append(parts, "fontcolor="+ffColor(tc.Style.Color, alpha))

	x, y := positionExpr(&tc.Position)
	start := tc.StartTime
	end := videoDuration
	if tc.EndTime != nil {
		end = *tc.EndTime
	}

	if tc.Animation != nil && tc.Animation.Type != "none" {
		x, y, parts = applyAnimation(tc.Animation, x, y, alpha, start, end, parts)
	}
	parts = append(parts, "x="+x, "y="+y)

	if tc.Background != nil {
		bgAlpha := 1.0
		if tc.Background.Alpha != nil {
			bgAlpha = *tc.Background.Alpha
		}
		parts = append(parts, "box=1", "boxcolor="+ffColor(tc.Background.Color, bgAlpha))
		if tc.Background.Padding > 0 {
			parts = append(parts, fmt.Sprintf("boxborderw=%d", tc.Background.Padding))
		}
	}
	if tc.Border != nil {
		parts = append(parts, fmt.Sprintf("borderw=%d", tc.Border.Width),
			"bordercolor="+ffColor(tc.Border.Color, 1))
	}
	if tc.Shadow != nil {
		parts = append(parts, fmt.Sprintf("shadowx=%d", tc.Shadow.OffsetX),
			fmt.Sprintf("shadowy=%d", tc.Shadow.OffsetY),
			"shadowcolor="+ffColor(tc.Shadow.Color, 1))
	}

	if tc.StartTime > 0 || tc.EndTime != nil {
		parts = append(parts, fmt.Sprintf("enable='between(t,%.3f,%.3f)'", start, end))
	}
	return "drawtext=" + strings.Join(parts, ":")
}

// positionExpr maps the position config onto drawtext x/y expressions.
// Relative anchors use the filter's runtime variables, so no probe geometry
// is needed.
func positionExpr(p *model.TextPosition) (x, y string) {
	if p.Type == "absolute" {
		return fmt.Sprintf("%d", *p.X), fmt.Sprintf("%d", *p.Y)
	}
	mx, my := p.MarginX, p.MarginY
	switch {
	case strings.HasPrefix(p.Position, "top-"):
		y = fmt.Sprintf("%d", my)
	case strings.HasPrefix(p.Position, "bottom-"):
		y = fmt.Sprintf("h-text_h-%d", my)
	default:
		y = "(h-text_h)/2"
	}
	switch {
	case strings.HasSuffix(p.Position, "-left"):
		x = fmt.Sprintf("%d", mx)
	case strings.HasSuffix(p.Position, "-right"):
		x = fmt.Sprintf("w-text_w-%d", mx)
	default:
		x = "(w-text_w)/2"
	}
	return x, y
}

// applyAnimation rewrites the position or alpha for the animation window.
// Fades modulate alpha; slides move from off-screen to the anchor; zooms
// approximate with a fade, since fontsize takes no expression.
func applyAnimation(a *model.TextAnimation, x, y string, baseAlpha, start, end float64, parts []string) (string, string, []string) {
	dur := a.Duration
	if dur <= 0 {
		dur = 0.5
	}
	s := start + a.Delay

	fadeIn := fmt.Sprintf("if(lt(t,%.3f),0,if(lt(t,%.3f),%.3f*(t-%.3f)/%.3f,%.3f))",
		s, s+dur, baseAlpha, s, dur, baseAlpha)
	fadeOut := fmt.Sprintf("if(gt(t,%.3f),%.3f*max(0,(%.3f-t)/%.3f),%.3f)",
		end-dur, baseAlpha, end, dur, baseAlpha)
	fadeBoth := fmt.Sprintf("if(lt(t,%.3f),0,if(lt(t,%.3f),%.3f*(t-%.3f)/%.3f,if(gt(t,%.3f),%.3f*max(0,(%.3f-t)/%.3f),%.3f)))",
		s, s+dur, baseAlpha, s, dur, end-dur, baseAlpha, end, dur, baseAlpha)

	slide := func(from, to string) string {
		return fmt.Sprintf("if(lt(t,%.3f),%s,if(lt(t,%.3f),%s+(%s-(%s))*(t-%.3f)/%.3f,%s))",
			s, from, s+dur, from, to, from, s, dur, to)
	}

	switch a.Type {
	case "fade-in", "zoom-in":
		parts = append(parts, "alpha='"+fadeIn+"'")
	case "fade-out", "zoom-out":
		parts = append(parts, "alpha='"+fadeOut+"'")
	case "fade":
		parts = append(parts, "alpha='"+fadeBoth+"'")
	case "slide-left":
		x = slide("w", x)
	case "slide-right":
		x = slide("-text_w", x)
	case "slide-up":
		y = slide("h", y)
	case "slide-down":
		y = slide("-text_h", y)
	}
	return x, y, parts
}

// ffColor renders "#RRGGBB" plus alpha as the 0xRRGGBB@a form filters accept.
func ffColor(hex string, alpha float64) string {
	c := "0x" + strings.TrimPrefix(hex, "#")
	if alpha >= 1 {
		return c
	}
	if alpha < 0 {
		alpha = 0
	}
	return fmt.Sprintf("%s@%.3f", c, alpha)
}

// escapeDrawtext escapes the characters drawtext treats specially inside a
// quoted value.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `'\''`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(s)
}
