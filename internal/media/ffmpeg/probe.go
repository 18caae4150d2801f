// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// StreamInfo is one container stream as reported by ffprobe.
type StreamInfo struct {
	Index     int
	CodecType string
	CodecName string
}

// Report is the probed metadata of one input.
type Report struct {
	model.MediaInfo
	Streams []StreamInfo
}

// HasStream reports whether the input carries at least one stream of the
// given kind ("video", "audio", "subtitle").
func (r *Report) HasStream(kind string) bool {
	for _, s := range r.Streams {
		if s.CodecType == kind {
			return true
		}
	}
	return false
}

// Prober shells out to ffprobe in JSON mode.
type Prober struct {
	Bin    string
	Logger zerolog.Logger
}

// NewProber returns a Prober using the given ffprobe binary.
func NewProber(bin string, logger zerolog.Logger) *Prober {
	return &Prober{Bin: bin, Logger: logger}
}

// Probe extracts container and stream metadata. input may be a local path or
// any URL ffprobe understands (presigned object URLs included). Probe
// failures are ValidationErrors: the input is unusable, retrying won't help.
func (p *Prober) Probe(ctx context.Context, input string) (*Report, error) {
	cmd := exec.CommandContext(ctx, p.Bin, // #nosec G204 -- argv is built internally
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, xerr.Wrapf(xerr.Validation, err, "probe failed for input")
	}
	report, err := parseProbeOutput(out)
	if err != nil {
		return nil, err
	}
	p.Logger.Debug().
		Float64("duration", report.Duration).
		Str("video_codec", report.VideoCodec).
		Str("audio_codec", report.AudioCodec).
		Msg("probed input")
	return report, nil
}

// ValidateKind probes the input and requires at least one stream of kind.
func (p *Prober) ValidateKind(ctx context.Context, input, kind string) (*Report, error) {
	report, err := p.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	if !report.HasStream(kind) {
		return nil, xerr.Newf(xerr.Validation, "input has no %s stream", kind)
	}
	return report, nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index      int    `json:"index"`
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

func parseProbeOutput(raw []byte) (*Report, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, xerr.Wrap(xerr.Validation, err, "undecodable probe output")
	}
	if len(out.Streams) == 0 {
		return nil, xerr.New(xerr.Validation, "probe returned no streams")
	}

	report := &Report{}
	report.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	report.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		report.Streams = append(report.Streams, StreamInfo{
			Index:     s.Index,
			CodecType: s.CodecType,
			CodecName: s.CodecName,
		})
		switch s.CodecType {
		case "video":
			if report.VideoCodec == "" {
				report.VideoCodec = s.CodecName
				report.Width = s.Width
				report.Height = s.Height
				report.FrameRate = parseFrameRate(s.RFrameRate)
			}
		case "audio":
			if report.AudioCodec == "" {
				report.AudioCodec = s.CodecName
			}
		}
	}
	return report, nil
}

// parseFrameRate converts ffprobe's rational "30000/1001" into a float.
func parseFrameRate(r string) float64 {
	num, den, found := strings.Cut(r, "/")
	if !found {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
