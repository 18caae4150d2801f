// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/clipwork/clipwork/internal/xerr"
)

// Preset is an x264 encoding preset.
type Preset string

const (
	PresetUltrafast Preset = "ultrafast"
	PresetSuperfast Preset = "superfast"
	PresetVeryfast  Preset = "veryfast"
	PresetFaster    Preset = "faster"
	PresetFast      Preset = "fast"
	PresetMedium    Preset = "medium"
	PresetSlow      Preset = "slow"
	PresetSlower    Preset = "slower"
	PresetVeryslow  Preset = "veryslow"
)

var validPresets = map[Preset]bool{
	PresetUltrafast: true, PresetSuperfast: true, PresetVeryfast: true,
	PresetFaster: true, PresetFast: true, PresetMedium: true,
	PresetSlow: true, PresetSlower: true, PresetVeryslow: true,
}

// Tune is an x264 tuning profile.
type Tune string

const (
	TuneFilm        Tune = "film"
	TuneAnimation   Tune = "animation"
	TuneGrain       Tune = "grain"
	TuneStillimage  Tune = "stillimage"
	TuneFastdecode  Tune = "fastdecode"
	TuneZerolatency Tune = "zerolatency"
)

var validTunes = map[Tune]bool{
	TuneFilm: true, TuneAnimation: true, TuneGrain: true,
	TuneStillimage: true, TuneFastdecode: true, TuneZerolatency: true,
}

// EncodeSettings selects codec parameters for re-encoding paths.
type EncodeSettings struct {
	Preset  Preset
	Tune    Tune
	CRF     int
	Threads int
	HWAccel string // "", "nvenc", "qsv", "vaapi"
}

// Scenario maps the three named scenarios onto concrete settings.
func Scenario(name string) (EncodeSettings, error) {
	switch name {
	case "fast":
		return EncodeSettings{Preset: PresetVeryfast, Tune: TuneFastdecode, CRF: 23}, nil
	case "balanced":
		return EncodeSettings{Preset: PresetFast, Tune: TuneFilm, CRF: 23}, nil
	case "quality":
		return EncodeSettings{Preset: PresetMedium, Tune: TuneFilm, CRF: 18}, nil
	default:
		return EncodeSettings{}, xerr.Newf(xerr.Validation, "unknown encoding scenario %q", name)
	}
}

// Validate rejects out-of-range tuning parameters.
func (s EncodeSettings) Validate() error {
	if s.Preset != "" && !validPresets[s.Preset] {
		return xerr.Newf(xerr.Validation, "unknown preset %q", s.Preset)
	}
	if s.Tune != "" && !validTunes[s.Tune] {
		return xerr.Newf(xerr.Validation, "unknown tune %q", s.Tune)
	}
	if s.CRF < 0 || s.CRF > 51 {
		return xerr.Newf(xerr.Validation, "crf must be within 0..51, got %d", s.CRF)
	}
	return nil
}

// VideoArgs renders the video-encoder argv fragment. Hardware encoders take
// precedence; the software path is libx264 with preset/tune/crf.
func (s EncodeSettings) VideoArgs() []string {
	var args []string
	switch s.HWAccel {
	case "nvenc":
		args = append(args, "-c:v", "h264_nvenc", "-preset", "p4", "-cq", strconv.Itoa(s.CRF))
	case "qsv":
		args = append(args, "-c:v", "h264_qsv", "-global_quality", strconv.Itoa(s.CRF))
	case "vaapi":
		args = append(args, "-c:v", "h264_vaapi", "-qp", strconv.Itoa(s.CRF))
	default:
		args = append(args, "-c:v", "libx264")
		if s.Preset != "" {
			args = append(args, "-preset", string(s.Preset))
		}
		if s.Tune != "" {
			args = append(args, "-tune", string(s.Tune))
		}
		args = append(args, "-crf", strconv.Itoa(s.CRF))
	}
	if s.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(s.Threads))
	}
	return args
}

// AudioArgs renders the standard AAC audio-encoder fragment.
func AudioArgs() []string {
	return []string{"-c:a", "aac", "-b:a", "192k", "-ar", "48000", "-ac", "2"}
}

// DetectHWAccel asks ffmpeg which accelerators are compiled in and picks the
// preferred available one. Returns "" when only software encoding is usable.
func DetectHWAccel(ctx context.Context, ffmpegBin string) string {
	out, err := exec.CommandContext(ctx, ffmpegBin, "-hide_banner", "-hwaccels").Output() // #nosec G204
	if err != nil {
		return ""
	}
	return pickHWAccel(string(out))
}

// pickHWAccel maps ffmpeg's -hwaccels output onto our encoder selectors in
// preference order: nvenc (cuda) > qsv > vaapi.
func pickHWAccel(hwaccelsOutput string) string {
	available := map[string]bool{}
	for _, line := range strings.Split(hwaccelsOutput, "\n") {
		available[strings.TrimSpace(line)] = true
	}
	switch {
	case available["cuda"] || available["nvdec"]:
		return "nvenc"
	case available["qsv"]:
		return "qsv"
	case available["vaapi"]:
		return "vaapi"
	}
	return ""
}
