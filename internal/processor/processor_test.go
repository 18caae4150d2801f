// SPDX-License-Identifier: MIT

package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestCheckJoinCompatibility(t *testing.T) {
	hd := &model.MediaInfo{Width: 1920, Height: 1080, FrameRate: 30, VideoCodec: "h264", Duration: 10}
	sd := &model.MediaInfo{Width: 1280, Height: 720, FrameRate: 30, VideoCodec: "h264", Duration: 5}
	ntsc := &model.MediaInfo{Width: 1920, Height: 1080, FrameRate: 29.97, VideoCodec: "h264", Duration: 5}
	vp9 := &model.MediaInfo{Width: 1920, Height: 1080, FrameRate: 30, VideoCodec: "vp9", Duration: 5}

	assert.NoError(t, checkJoinCompatibility([]joinInput{{info: hd}, {info: hd}}))

	err := checkJoinCompatibility([]joinInput{{info: hd}, {info: sd}})
	require.Error(t, err)
	assert.Equal(t, xerr.Validation, xerr.ClassOf(err))
	assert.Contains(t, err.Error(), "resolution")

	err = checkJoinCompatibility([]joinInput{{info: hd}, {info: ntsc}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame rate")

	err = checkJoinCompatibility([]joinInput{{info: hd}, {info: vp9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vp9")
}

func TestBuildAudioFilter_Replace(t *testing.T) {
	cfg := &model.AudioOverlayConfig{Mode: model.AudioModeReplace}
	f := buildAudioFilter(cfg, true)
	assert.Equal(t, "[1:a]volume=1.000[ov];[ov]acopy[aout]", f)
}

func TestBuildAudioFilter_MixWithTrimDelayGain(t *testing.T) {
	cfg := &model.AudioOverlayConfig{
		Mode:           model.AudioModeMix,
		Offset:         1.5,
		Duration:       fp(8),
		OriginalVolume: fp(0.6),
		OverlayVolume:  fp(0.9),
	}
	f := buildAudioFilter(cfg, true)
	assert.Contains(t, f, "atrim=0:8.000")
	assert.Contains(t, f, "adelay=1500:all=1")
	assert.Contains(t, f, "volume=0.900[ov]")
	assert.Contains(t, f, "[0:a]volume=0.600[orig]")
	assert.Contains(t, f, "amix=inputs=2:duration=first:normalize=0[aout]")
}

func TestBuildAudioFilter_MixFallsBackToReplaceWithoutAudio(t *testing.T) {
	cfg := &model.AudioOverlayConfig{Mode: model.AudioModeMix}
	f := buildAudioFilter(cfg, false)
	assert.Contains(t, f, "acopy[aout]")
	assert.NotContains(t, f, "amix")
}

func TestBuildAudioArgs_ReplaceEndsWithShorterStream(t *testing.T) {
	// 10 s video, 8 s overlay, replace: the output must stop at 8 s, so the
	// argv ends the mux at the shorter stream and never pins the video length
	cfg := &model.AudioOverlayConfig{Mode: model.AudioModeReplace}
	video := &model.MediaInfo{Duration: 10, AudioCodec: "aac"}

	args := buildAudioArgs(cfg, "in.mp4", "track.aac", "out.mp4", video)
	assert.Contains(t, args, "-shortest")
	assert.NotContains(t, args, "-t")
	assert.NotContains(t, args, "10.000")

	// video stream copies, audio re-encodes to aac
	assert.Contains(t, args, "copy")
	assert.Contains(t, args, "aac")
}

func TestBuildAudioArgs_MixBoundedByOriginalTrack(t *testing.T) {
	cfg := &model.AudioOverlayConfig{Mode: model.AudioModeMix}
	video := &model.MediaInfo{Duration: 10, AudioCodec: "aac"}

	args := buildAudioArgs(cfg, "in.mp4", "track.aac", "out.mp4", video)
	assert.NotContains(t, args, "-shortest", "amix duration=first already holds the original length")
	assert.NotContains(t, args, "-t")
}

func TestBuildAudioArgs_SilentVideoEndsWithShorterStream(t *testing.T) {
	cfg := &model.AudioOverlayConfig{Mode: model.AudioModeMix}
	silent := &model.MediaInfo{Duration: 10}

	args := buildAudioArgs(cfg, "in.mp4", "track.aac", "out.mp4", silent)
	assert.Contains(t, args, "-shortest")
}

func TestPositionExpr(t *testing.T) {
	x, y := positionExpr(&model.TextPosition{Type: "absolute", X: ip(100), Y: ip(50)})
	assert.Equal(t, "100", x)
	assert.Equal(t, "50", y)

	x, y = positionExpr(&model.TextPosition{Type: "relative", Position: "bottom-right", MarginX: 20, MarginY: 30})
	assert.Equal(t, "w-text_w-20", x)
	assert.Equal(t, "h-text_h-30", y)

	x, y = positionExpr(&model.TextPosition{Type: "relative", Position: "center"})
	assert.Equal(t, "(w-text_w)/2", x)
	assert.Equal(t, "(h-text_h)/2", y)

	x, y = positionExpr(&model.TextPosition{Type: "relative", Position: "top-left", MarginX: 10, MarginY: 10})
	assert.Equal(t, "10", x)
	assert.Equal(t, "10", y)
}

func TestBuildDrawtext(t *testing.T) {
	cfg := &model.TextOverlayConfig{
		VideoFileID: 1,
		Text:        "Hello World",
		Position:    model.TextPosition{Type: "relative", Position: "bottom-center", MarginY: 40},
		Style:       model.TextStyle{FontSize: 32, Color: "#FF0000"},
		StartTime:   2,
		EndTime:     fp(8),
	}
	f := buildDrawtext(cfg, 20)
	assert.Contains(t, f, "drawtext=")
	assert.Contains(t, f, "text='Hello World'")
	assert.Contains(t, f, "fontsize=32")
	assert.Contains(t, f, "fontcolor=0xFF0000")
	assert.Contains(t, f, "y=h-text_h-40")
	assert.Contains(t, f, "enable='between(t,2.000,8.000)'")
}

func TestBuildDrawtext_BoxBorderShadow(t *testing.T) {
	cfg := &model.TextOverlayConfig{
		VideoFileID: 1,
		Text:        "x",
		Position:    model.TextPosition{Type: "relative", Position: "center"},
		Style:       model.TextStyle{FontSize: 24, Color: "#FFFFFF"},
		Background:  &model.BoxStyle{Color: "#000000", Alpha: fp(0.5), Padding: 10},
		Border:      &model.BorderStyle{Width: 2, Color: "#00FF00"},
		Shadow:      &model.ShadowStyle{OffsetX: 3, OffsetY: 4, Color: "#111111"},
	}
	f := buildDrawtext(cfg, 10)
	assert.Contains(t, f, "box=1")
	assert.Contains(t, f, "boxcolor=0x000000@0.500")
	assert.Contains(t, f, "boxborderw=10")
	assert.Contains(t, f, "borderw=2")
	assert.Contains(t, f, "shadowx=3")
	assert.Contains(t, f, "shadowy=4")
}

func TestBuildDrawtext_FadeAnimation(t *testing.T) {
	cfg := &model.TextOverlayConfig{
		VideoFileID: 1,
		Text:        "fade me",
		Position:    model.TextPosition{Type: "relative", Position: "center"},
		Style:       model.TextStyle{FontSize: 24, Color: "#FFFFFF"},
		Animation:   &model.TextAnimation{Type: "fade-in", Duration: 1},
	}
	f := buildDrawtext(cfg, 10)
	assert.Contains(t, f, "alpha='if(lt(t,")
}

func TestBuildDrawtext_SlideAnimation(t *testing.T) {
	cfg := &model.TextOverlayConfig{
		VideoFileID: 1,
		Text:        "slide",
		Position:    model.TextPosition{Type: "relative", Position: "center"},
		Style:       model.TextStyle{FontSize: 24, Color: "#FFFFFF"},
		Animation:   &model.TextAnimation{Type: "slide-left", Duration: 0.5},
	}
	f := buildDrawtext(cfg, 10)
	// x becomes a time-dependent expression starting off-screen right
	assert.Contains(t, f, "x=if(lt(t,")
	assert.Contains(t, f, "w,")
}

func TestEscapeDrawtext(t *testing.T) {
	assert.Equal(t, `it'\''s 100\% done\: ok`, escapeDrawtext(`it's 100% done: ok`))
	assert.Equal(t, `a\\b`, escapeDrawtext(`a\b`))
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/tmp/a\:b\,c.srt`, escapeFilterPath(`/tmp/a:b,c.srt`))
}

func TestFFColor(t *testing.T) {
	assert.Equal(t, "0xFF0000", ffColor("#FF0000", 1))
	assert.Equal(t, "0xFF0000@0.500", ffColor("#FF0000", 0.5))
}

func TestBuildOverlayGraph(t *testing.T) {
	info := &model.MediaInfo{Width: 640, Height: 360, Duration: 10}

	plain := &model.VideoOverlayConfig{
		BaseVideoFileID: 1, OverlayVideoFileID: 2,
		Config: model.OverlayGeometry{X: 10, Y: 20, Scale: fp(0.25)},
	}
	g := buildOverlayGraph(plain, info)
	assert.Contains(t, g, "scale=iw*0.2500:ih*0.2500")
	assert.Contains(t, g, "overlay=10:20")
	assert.Contains(t, g, "[vout]")
	assert.NotContains(t, g, "geq")

	circle := &model.VideoOverlayConfig{
		BaseVideoFileID: 1, OverlayVideoFileID: 2,
		Config: model.OverlayGeometry{Shape: model.ShapeCircle, Opacity: fp(0.8)},
	}
	g = buildOverlayGraph(circle, info)
	assert.Contains(t, g, "colorchannelmixer=aa=0.800")
	assert.Contains(t, g, "geq=")

	windowed := &model.VideoOverlayConfig{
		BaseVideoFileID: 1, OverlayVideoFileID: 2,
		Config: model.OverlayGeometry{StartTime: fp(1), EndTime: fp(5)},
	}
	g = buildOverlayGraph(windowed, info)
	assert.Contains(t, g, "enable='between(t,1.000,5.000)'")

	bordered := &model.VideoOverlayConfig{
		BaseVideoFileID: 1, OverlayVideoFileID: 2,
		Config: model.OverlayGeometry{X: 50, Y: 50, Width: ip(200), Height: ip(100)},
		Border: &model.BorderStyle{Width: 4, Color: "#FFFFFF"},
	}
	g = buildOverlayGraph(bordered, info)
	assert.Contains(t, g, "scale=200:100")
	assert.Contains(t, g, "pad=iw+8:ih+8:4:4")
	assert.Contains(t, g, "overlay=46:46")
}

func TestScaleProgress(t *testing.T) {
	var got []float64
	p := scaleProgress(func(pct float64) { got = append(got, pct) }, 1, 4)
	p(0)
	p(50)
	p(100)
	require.Len(t, got, 3)
	assert.InDelta(t, 25.0, got[0], 0.001)
	assert.InDelta(t, 37.5, got[1], 0.001)
	assert.InDelta(t, 50.0, got[2], 0.001)

	assert.Nil(t, scaleProgress(nil, 0, 2))
}

func TestOutputName(t *testing.T) {
	job := &model.Job{ID: 7, Type: model.JobJoin}
	named := &model.JoinConfig{FileIDs: []int64{1, 2}, OutputFilename: "movie.mp4"}
	assert.Equal(t, "movie.mp4", outputName(job, named))

	anon := &model.JoinConfig{FileIDs: []int64{1, 2}}
	assert.Equal(t, "join_7.mp4", outputName(job, anon))
}

func TestSanitizeExt(t *testing.T) {
	assert.Equal(t, ".mp4", sanitizeExt("clip.MP4"))
	assert.Equal(t, ".bin", sanitizeExt("noext"))
	assert.Equal(t, ".bin", sanitizeExt("weird.superlongextension"))
}
