// SPDX-License-Identifier: MIT

package model

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/clipwork/clipwork/internal/xerr"
)

// JobConfig is the tagged variant behind a job's per-type config payload.
// The persisted form is the raw JSON keyed by the job's type; unknown keys
// are rejected at parse time.
type JobConfig interface {
	Validate() error
	// InputIDs returns the asset ids the operation reads, in config order.
	InputIDs() []int64
}

// ParseConfig decodes and validates the config payload for the given type.
func ParseConfig(t JobType, raw json.RawMessage) (JobConfig, error) {
	var cfg JobConfig
	switch t {
	case JobJoin:
		cfg = &JoinConfig{}
	case JobAudioOverlay:
		cfg = &AudioOverlayConfig{}
	case JobTextOverlay:
		cfg = &TextOverlayConfig{}
	case JobSubtitles:
		cfg = &SubtitlesConfig{}
	case JobVideoOverlay:
		cfg = &VideoOverlayConfig{}
	case JobCombined:
		cfg = &CombinedConfig{}
	default:
		return nil, xerr.Newf(xerr.Validation, "unknown job type %q", t)
	}
	if err := strictDecode(raw, cfg); err != nil {
		return nil, xerr.Wrapf(xerr.Validation, err, "invalid %s config", t)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func strictDecode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

func validColor(c string) bool { return colorRe.MatchString(c) }

// JoinConfig concatenates two or more compatible clips.
type JoinConfig struct {
	FileIDs        []int64 `json:"file_ids"`
	OutputFilename string  `json:"output_filename,omitempty"`
	ReEncode       bool    `json:"re_encode,omitempty"`
}

func (c *JoinConfig) Validate() error {
	if len(c.FileIDs) < 2 {
		return xerr.Newf(xerr.Validation, "join requires at least 2 files, got %d", len(c.FileIDs))
	}
	return nil
}

func (c *JoinConfig) InputIDs() []int64 { return c.FileIDs }

// Audio overlay modes.
const (
	AudioModeReplace = "replace"
	AudioModeMix     = "mix"
)

// AudioOverlayConfig replaces or mixes the audio track of a video.
type AudioOverlayConfig struct {
	VideoFileID    int64    `json:"video_file_id"`
	AudioFileID    int64    `json:"audio_file_id"`
	Mode           string   `json:"mode"`
	Offset         float64  `json:"offset,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	OriginalVolume *float64 `json:"original_volume,omitempty"`
	OverlayVolume  *float64 `json:"overlay_volume,omitempty"`
}

func (c *AudioOverlayConfig) Validate() error {
	if c.VideoFileID == 0 || c.AudioFileID == 0 {
		return xerr.New(xerr.Validation, "audio overlay requires video_file_id and audio_file_id")
	}
	if c.Mode != AudioModeReplace && c.Mode != AudioModeMix {
		return xerr.Newf(xerr.Validation, "audio overlay mode must be %q or %q", AudioModeReplace, AudioModeMix)
	}
	if c.Offset < 0 {
		return xerr.New(xerr.Validation, "audio offset must be >= 0")
	}
	if c.Duration != nil && *c.Duration <= 0 {
		return xerr.New(xerr.Validation, "audio duration must be > 0")
	}
	for name, v := range map[string]*float64{"original_volume": c.OriginalVolume, "overlay_volume": c.OverlayVolume} {
		if v != nil && (*v < 0 || *v > 2) {
			return xerr.Newf(xerr.Validation, "%s must be within 0..2", name)
		}
	}
	return nil
}

func (c *AudioOverlayConfig) InputIDs() []int64 { return []int64{c.VideoFileID, c.AudioFileID} }

// OriginalGain returns original_volume with its default of 1.
func (c *AudioOverlayConfig) OriginalGain() float64 { return gainOr(c.OriginalVolume, 1) }

// OverlayGain returns overlay_volume with its default of 1.
func (c *AudioOverlayConfig) OverlayGain() float64 { return gainOr(c.OverlayVolume, 1) }

func gainOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// Position anchors for relative text placement.
var textAnchors = map[string]bool{
	"top-left": true, "top-center": true, "top-right": true,
	"center-left": true, "center": true, "center-right": true,
	"bottom-left": true, "bottom-center": true, "bottom-right": true,
}

// TextPosition places text either at absolute pixel coordinates or at one of
// nine anchors with margins.
type TextPosition struct {
	Type     string `json:"type"` // "absolute" | "relative"
	X        *int   `json:"x,omitempty"`
	Y        *int   `json:"y,omitempty"`
	Position string `json:"position,omitempty"`
	MarginX  int    `json:"margin_x,omitempty"`
	MarginY  int    `json:"margin_y,omitempty"`
}

func (p *TextPosition) validate() error {
	switch p.Type {
	case "absolute":
		if p.X == nil || p.Y == nil {
			return xerr.New(xerr.Validation, "absolute position requires x and y")
		}
	case "relative":
		if !textAnchors[p.Position] {
			return xerr.Newf(xerr.Validation, "unknown position anchor %q", p.Position)
		}
	default:
		return xerr.Newf(xerr.Validation, "position type must be absolute or relative, got %q", p.Type)
	}
	return nil
}

// TextStyle is the font styling of an overlay.
type TextStyle struct {
	FontFamily string   `json:"font_family,omitempty"`
	FontSize   int      `json:"font_size"`
	FontWeight string   `json:"font_weight,omitempty"`
	Color      string   `json:"color"`
	Alpha      *float64 `json:"alpha,omitempty"`
}

func (s *TextStyle) validate() error {
	if s.FontSize < 8 || s.FontSize > 200 {
		return xerr.Newf(xerr.Validation, "font_size must be within 8..200, got %d", s.FontSize)
	}
	if !validColor(s.Color) {
		return xerr.Newf(xerr.Validation, "invalid color %q, want #RRGGBB", s.Color)
	}
	if s.Alpha != nil && (*s.Alpha < 0 || *s.Alpha > 1) {
		return xerr.New(xerr.Validation, "style alpha must be within 0..1")
	}
	return nil
}

// BoxStyle is an optional background box behind the text.
type BoxStyle struct {
	Color   string   `json:"color"`
	Alpha   *float64 `json:"alpha,omitempty"`
	Padding int      `json:"padding,omitempty"`
	Radius  int      `json:"radius,omitempty"`
}

// BorderStyle is an outline decoration.
type BorderStyle struct {
	Width int    `json:"width"`
	Color string `json:"color"`
}

// ShadowStyle is a drop-shadow decoration.
type ShadowStyle struct {
	OffsetX int    `json:"offset_x,omitempty"`
	OffsetY int    `json:"offset_y,omitempty"`
	Blur    int    `json:"blur,omitempty"`
	Color   string `json:"color"`
}

// Text animation kinds.
var textAnimations = map[string]bool{
	"none": true, "fade-in": true, "fade-out": true, "fade": true,
	"slide-left": true, "slide-right": true, "slide-up": true, "slide-down": true,
	"zoom-in": true, "zoom-out": true,
}

// TextAnimation animates the overlay's entry and exit.
type TextAnimation struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration,omitempty"`
	Delay    float64 `json:"delay,omitempty"`
}

// TextOverlayConfig draws styled text onto a video.
type TextOverlayConfig struct {
	VideoFileID int64          `json:"video_file_id"`
	Text        string         `json:"text"`
	Position    TextPosition   `json:"position"`
	Style       TextStyle      `json:"style"`
	Background  *BoxStyle      `json:"background,omitempty"`
	Border      *BorderStyle   `json:"border,omitempty"`
	Shadow      *ShadowStyle   `json:"shadow,omitempty"`
	Animation   *TextAnimation `json:"animation,omitempty"`
	Rotation    float64        `json:"rotation,omitempty"`
	Opacity     *float64       `json:"opacity,omitempty"`
	StartTime   float64        `json:"start_time,omitempty"`
	EndTime     *float64       `json:"end_time,omitempty"`
}

func (c *TextOverlayConfig) Validate() error {
	if c.VideoFileID == 0 {
		return xerr.New(xerr.Validation, "text overlay requires video_file_id")
	}
	if len(c.Text) < 1 || len(c.Text) > 1000 {
		return xerr.Newf(xerr.Validation, "text length must be within 1..1000, got %d", len(c.Text))
	}
	if err := c.Position.validate(); err != nil {
		return err
	}
	if err := c.Style.validate(); err != nil {
		return err
	}
	if c.Background != nil && !validColor(c.Background.Color) {
		return xerr.Newf(xerr.Validation, "invalid background color %q", c.Background.Color)
	}
	if c.Border != nil && !validColor(c.Border.Color) {
		return xerr.Newf(xerr.Validation, "invalid border color %q", c.Border.Color)
	}
	if c.Shadow != nil && !validColor(c.Shadow.Color) {
		return xerr.Newf(xerr.Validation, "invalid shadow color %q", c.Shadow.Color)
	}
	if c.Animation != nil && !textAnimations[c.Animation.Type] {
		return xerr.Newf(xerr.Validation, "unknown animation %q", c.Animation.Type)
	}
	if c.Rotation < -360 || c.Rotation > 360 {
		return xerr.New(xerr.Validation, "rotation must be within -360..360")
	}
	if c.Opacity != nil && (*c.Opacity < 0 || *c.Opacity > 1) {
		return xerr.New(xerr.Validation, "opacity must be within 0..1")
	}
	if c.StartTime < 0 {
		return xerr.New(xerr.Validation, "start_time must be >= 0")
	}
	if c.EndTime != nil && *c.EndTime <= c.StartTime {
		return xerr.New(xerr.Validation, "end_time must be after start_time")
	}
	return nil
}

func (c *TextOverlayConfig) InputIDs() []int64 { return []int64{c.VideoFileID} }

// Subtitle formats accepted for burn-in.
var subtitleFormats = map[string]bool{"SRT": true, "VTT": true, "ASS": true, "SSA": true}

// InlineCue is one cue of an inline subtitle list.
type InlineCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SubtitleStyle configures the synthesized ASS style for burn-in.
type SubtitleStyle struct {
	FontFamily   string `json:"font_family,omitempty"`
	FontSize     int    `json:"font_size,omitempty"`
	Color        string `json:"color,omitempty"`
	OutlineColor string `json:"outline_color,omitempty"`
	OutlineWidth int    `json:"outline_width,omitempty"`
	Bold         bool   `json:"bold,omitempty"`
}

// SubtitlesConfig burns subtitles into a video, from either a stored subtitle
// asset or an inline cue list (exactly one of the two).
type SubtitlesConfig struct {
	VideoFileID    int64          `json:"video_file_id"`
	SubtitleFileID *int64         `json:"subtitle_file_id,omitempty"`
	SubtitleText   []InlineCue    `json:"subtitle_text,omitempty"`
	Format         string         `json:"format"`
	Style          *SubtitleStyle `json:"style,omitempty"`
	Position       string         `json:"position,omitempty"` // top | center | bottom
}

func (c *SubtitlesConfig) Validate() error {
	if c.VideoFileID == 0 {
		return xerr.New(xerr.Validation, "subtitles require video_file_id")
	}
	hasFile := c.SubtitleFileID != nil
	hasInline := len(c.SubtitleText) > 0
	if hasFile == hasInline {
		return xerr.New(xerr.Validation, "exactly one of subtitle_file_id or subtitle_text is required")
	}
	if !subtitleFormats[c.Format] {
		return xerr.Newf(xerr.Validation, "unknown subtitle format %q", c.Format)
	}
	for i, cue := range c.SubtitleText {
		if cue.Start < 0 || cue.End <= cue.Start {
			return xerr.Newf(xerr.Validation, "cue %d has invalid timing [%g, %g]", i, cue.Start, cue.End)
		}
		if cue.Text == "" {
			return xerr.Newf(xerr.Validation, "cue %d has empty text", i)
		}
	}
	switch c.Position {
	case "", "top", "center", "bottom":
	default:
		return xerr.Newf(xerr.Validation, "unknown subtitle position %q", c.Position)
	}
	if c.Style != nil {
		for name, col := range map[string]string{"color": c.Style.Color, "outline_color": c.Style.OutlineColor} {
			if col != "" && !validColor(col) {
				return xerr.Newf(xerr.Validation, "invalid subtitle %s %q", name, col)
			}
		}
	}
	return nil
}

func (c *SubtitlesConfig) InputIDs() []int64 {
	ids := []int64{c.VideoFileID}
	if c.SubtitleFileID != nil {
		ids = append(ids, *c.SubtitleFileID)
	}
	return ids
}

// Overlay shapes for picture-in-picture.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapeRounded   = "rounded"
)

// OverlayGeometry sizes and places the picture-in-picture overlay.
type OverlayGeometry struct {
	X            int      `json:"x"`
	Y            int      `json:"y"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	Scale        *float64 `json:"scale,omitempty"`
	Opacity      *float64 `json:"opacity,omitempty"`
	Shape        string   `json:"shape,omitempty"`
	BorderRadius int      `json:"border_radius,omitempty"`
	StartTime    *float64 `json:"start_time,omitempty"`
	EndTime      *float64 `json:"end_time,omitempty"`
}

// VideoOverlayConfig composes an overlay video onto a base video.
type VideoOverlayConfig struct {
	BaseVideoFileID    int64           `json:"base_video_file_id"`
	OverlayVideoFileID int64           `json:"overlay_video_file_id"`
	Config             OverlayGeometry `json:"config"`
	Border             *BorderStyle    `json:"border,omitempty"`
	Shadow             *ShadowStyle    `json:"shadow,omitempty"`
}

func (c *VideoOverlayConfig) Validate() error {
	if c.BaseVideoFileID == 0 || c.OverlayVideoFileID == 0 {
		return xerr.New(xerr.Validation, "video overlay requires base_video_file_id and overlay_video_file_id")
	}
	g := c.Config
	hasExplicit := g.Width != nil || g.Height != nil
	if hasExplicit && (g.Width == nil || g.Height == nil) {
		return xerr.New(xerr.Validation, "overlay width and height must be set together")
	}
	if g.Scale != nil {
		if hasExplicit {
			return xerr.New(xerr.Validation, "overlay scale and explicit size are mutually exclusive")
		}
		if *g.Scale <= 0 || *g.Scale > 1 {
			return xerr.New(xerr.Validation, "overlay scale must be within 0..1")
		}
	}
	if g.Opacity != nil && (*g.Opacity < 0 || *g.Opacity > 1) {
		return xerr.New(xerr.Validation, "overlay opacity must be within 0..1")
	}
	switch g.Shape {
	case "", ShapeRectangle, ShapeCircle:
	case ShapeRounded:
		if g.BorderRadius <= 0 {
			return xerr.New(xerr.Validation, "rounded overlay requires border_radius > 0")
		}
	default:
		return xerr.Newf(xerr.Validation, "unknown overlay shape %q", g.Shape)
	}
	if g.StartTime != nil && *g.StartTime < 0 {
		return xerr.New(xerr.Validation, "overlay start_time must be >= 0")
	}
	if g.StartTime != nil && g.EndTime != nil && *g.EndTime <= *g.StartTime {
		return xerr.New(xerr.Validation, "overlay end_time must be after start_time")
	}
	if c.Border != nil && !validColor(c.Border.Color) {
		return xerr.Newf(xerr.Validation, "invalid border color %q", c.Border.Color)
	}
	if c.Shadow != nil && !validColor(c.Shadow.Color) {
		return xerr.Newf(xerr.Validation, "invalid shadow color %q", c.Shadow.Color)
	}
	return nil
}

func (c *VideoOverlayConfig) InputIDs() []int64 {
	return []int64{c.BaseVideoFileID, c.OverlayVideoFileID}
}

// PipelineOp is one stage of a combined job.
type PipelineOp struct {
	Type   JobType         `json:"type"`
	Config json.RawMessage `json:"config"`
}

// Pipeline length bounds for combined jobs.
const (
	MinPipelineOps = 2
	MaxPipelineOps = 10
)

// CombinedConfig chains 2..10 operations over a seed asset.
type CombinedConfig struct {
	BaseFileID int64        `json:"base_file_id"`
	Operations []PipelineOp `json:"operations"`
}

func (c *CombinedConfig) Validate() error {
	if c.BaseFileID == 0 {
		return xerr.New(xerr.Validation, "combined job requires base_file_id")
	}
	if n := len(c.Operations); n < MinPipelineOps || n > MaxPipelineOps {
		return xerr.Newf(xerr.Validation, "combined job requires %d..%d operations, got %d",
			MinPipelineOps, MaxPipelineOps, n)
	}
	for i, op := range c.Operations {
		if op.Type == JobCombined {
			return xerr.Newf(xerr.Validation, "operation %d: combined jobs cannot nest", i)
		}
		if _, err := ParseConfig(op.Type, op.Config); err != nil {
			return xerr.Wrapf(xerr.Validation, err, "operation %d (%s)", i, op.Type)
		}
	}
	return nil
}

// InputIDs returns the seed followed by every stage's inputs, deduplicated.
func (c *CombinedConfig) InputIDs() []int64 {
	seen := map[int64]bool{c.BaseFileID: true}
	ids := []int64{c.BaseFileID}
	for _, op := range c.Operations {
		cfg, err := ParseConfig(op.Type, op.Config)
		if err != nil {
			continue
		}
		for _, id := range cfg.InputIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// SortedIDs returns a sorted copy of ids, for deterministic cache keys.
func SortedIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
