// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
)

// overlayStage composes a picture-in-picture video onto a base video:
// scaling, opacity, shape masks, border, shadow and a time window.
type overlayStage struct {
	env *Env
}

func (s *overlayStage) Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error) {
	oc := cfg.(*model.VideoOverlayConfig)

	ovAsset, ovPath, ovInfo, err := sc.Env.fetchAsset(ctx, sc.OwnerID, oc.OverlayVideoFileID, sc.Dir)
	if err != nil {
		return "", err
	}
	if err := requireVideo(ovInfo, ovAsset.ID); err != nil {
		return "", err
	}

	graph := buildOverlayGraph(oc, ovInfo)

	out := scratchFile(sc.Dir, ".mp4")
	args := []string{"-i", sc.InputPath, "-i", ovPath,
		"-filter_complex", graph, "-map", "[vout]"}
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

// buildOverlayGraph renders the filter_complex graph. The overlay chain is
// scale -> alpha format -> opacity -> shape mask; shadow and border layers
// are composited beneath and behind it.
func buildOverlayGraph(oc *model.VideoOverlayConfig, ovInfo *model.MediaInfo) string {
	g := oc.Config
	var fc strings.Builder

	// overlay sizing
	fc.WriteString("[1:v]")
	switch {
	case g.Scale != nil:
		fmt.Fprintf(&fc, "scale=iw*%.4f:ih*%.4f,", *g.Scale, *g.Scale)
	case g.Width != nil:
		fmt.Fprintf(&fc, "scale=%d:%d,", *g.Width, *g.Height)
	}
	fc.WriteString("format=yuva420p")
	if g.Opacity != nil && *g.Opacity < 1 {
		fmt.Fprintf(&fc, ",colorchannelmixer=aa=%.3f", *g.Opacity)
	}
	switch g.Shape {
	case model.ShapeCircle:
		fc.WriteString(",geq=lum='lum(X,Y)':cb='cb(X,Y)':cr='cr(X,Y)':a='if(lte((X-W/2)*(X-W/2)+(Y-H/2)*(Y-H/2),(min(W,H)/2)*(min(W,H)/2)),alpha(X,Y),0)'")
	case model.ShapeRounded:
		r := g.BorderRadius
		fmt.Fprintf(&fc,
			",geq=lum='lum(X,Y)':cb='cb(X,Y)':cr='cr(X,Y)':a='if(gt(max(abs(X-W/2)-(W/2-%d),0)*max(abs(X-W/2)-(W/2-%d),0)+max(abs(Y-H/2)-(H/2-%d),0)*max(abs(Y-H/2)-(H/2-%d),0),%d*%d),0,alpha(X,Y))'",
			r, r, r, r, r, r)
	}
	fc.WriteString("[ov];")

	base := "[0:v]"
	x, y := g.X, g.Y

	// shadow: a translucent dark slab offset behind the overlay
	if oc.Shadow != nil {
		ow, oh := overlayDims(g, ovInfo)
		fmt.Fprintf(&fc, "color=c=%s@0.5:s=%dx%d[shadow];", "0x"+strings.TrimPrefix(oc.Shadow.Color, "#"), ow, oh)
		fmt.Fprintf(&fc, "%s[shadow]overlay=%d:%d%s[withshadow];",
			base, x+oc.Shadow.OffsetX, y+oc.Shadow.OffsetY, enableWindow(g))
		base = "[withshadow]"
	}

	// border: pad the overlay on all sides with the border color
	if oc.Border != nil && oc.Border.Width > 0 {
		b := oc.Border.Width
		fmt.Fprintf(&fc, "[ov]pad=iw+%d:ih+%d:%d:%d:color=%s[ovb];", 2*b, 2*b, b, b,
			"0x"+strings.TrimPrefix(oc.Border.Color, "#"))
		x -= b
		y -= b
		fmt.Fprintf(&fc, "%s[ovb]overlay=%d:%d%s[vout]", base, x, y, enableWindow(g))
		return fc.String()
	}

	fmt.Fprintf(&fc, "%s[ov]overlay=%d:%d%s[vout]", base, x, y, enableWindow(g))
	return fc.String()
}

func enableWindow(g model.OverlayGeometry) string {
	if g.StartTime == nil && g.EndTime == nil {
		return ""
	}
	start := 0.0
	if g.StartTime != nil {
		start = *g.StartTime
	}
	if g.EndTime != nil {
		return fmt.Sprintf(":enable='between(t,%.3f,%.3f)'", start, *g.EndTime)
	}
	return fmt.Sprintf(":enable='gte(t,%.3f)'", start)
}

// overlayDims resolves the on-screen size of the overlay after scaling.
func overlayDims(g model.OverlayGeometry, info *model.MediaInfo) (int, int) {
	switch {
	case g.Width != nil:
		return *g.Width, *g.Height
	case g.Scale != nil:
		return int(float64(info.Width) * *g.Scale), int(float64(info.Height) * *g.Scale)
	}
	return info.Width, info.Height
}
