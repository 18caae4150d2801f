// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Join(t *testing.T) {
	cfg, err := ParseConfig(JobJoin, json.RawMessage(`{"file_ids":[3,1,2],"re_encode":true}`))
	require.NoError(t, err)
	join := cfg.(*JoinConfig)
	assert.Equal(t, []int64{3, 1, 2}, join.FileIDs)
	assert.True(t, join.ReEncode)
	assert.Equal(t, []int64{3, 1, 2}, cfg.InputIDs())
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig(JobJoin, json.RawMessage(`{"file_ids":[1,2],"codec":"hevc"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec")
}

func TestParseConfig_JoinTooFewFiles(t *testing.T) {
	_, err := ParseConfig(JobJoin, json.RawMessage(`{"file_ids":[7]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")
}

func TestAudioOverlayConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(JobAudioOverlay, json.RawMessage(
		`{"video_file_id":1,"audio_file_id":2,"mode":"mix","offset":1.5}`))
	require.NoError(t, err)
	ao := cfg.(*AudioOverlayConfig)
	assert.Equal(t, 1.0, ao.OriginalGain())
	assert.Equal(t, 1.0, ao.OverlayGain())
	assert.Equal(t, []int64{1, 2}, ao.InputIDs())
}

func TestAudioOverlayConfig_Bounds(t *testing.T) {
	cases := []string{
		`{"video_file_id":1,"audio_file_id":2,"mode":"dub"}`,
		`{"video_file_id":1,"audio_file_id":2,"mode":"mix","offset":-1}`,
		`{"video_file_id":1,"audio_file_id":2,"mode":"mix","overlay_volume":2.5}`,
		`{"video_file_id":1,"audio_file_id":2,"mode":"mix","duration":0}`,
		`{"audio_file_id":2,"mode":"mix"}`,
	}
	for _, raw := range cases {
		_, err := ParseConfig(JobAudioOverlay, json.RawMessage(raw))
		assert.Error(t, err, "config should be rejected: %s", raw)
	}
}

func TestTextOverlayConfig(t *testing.T) {
	raw := `{
		"video_file_id": 9,
		"text": "Hello, World",
		"position": {"type":"relative","position":"bottom-center","margin_x":10,"margin_y":10},
		"style": {"font_family":"DejaVu Sans","font_size":48,"color":"#FFFFFF"},
		"animation": {"type":"fade-in","duration":1.0},
		"start_time": 0,
		"end_time": 5
	}`
	cfg, err := ParseConfig(JobTextOverlay, json.RawMessage(raw))
	require.NoError(t, err)
	to := cfg.(*TextOverlayConfig)
	assert.Equal(t, "bottom-center", to.Position.Position)
	assert.Equal(t, 48, to.Style.FontSize)
}

func TestTextOverlayConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad anchor":   `{"video_file_id":1,"text":"x","position":{"type":"relative","position":"middle"},"style":{"font_size":20,"color":"#000000"}}`,
		"bad color":    `{"video_file_id":1,"text":"x","position":{"type":"absolute","x":0,"y":0},"style":{"font_size":20,"color":"red"}}`,
		"font too big": `{"video_file_id":1,"text":"x","position":{"type":"absolute","x":0,"y":0},"style":{"font_size":500,"color":"#000000"}}`,
		"no x/y":       `{"video_file_id":1,"text":"x","position":{"type":"absolute"},"style":{"font_size":20,"color":"#000000"}}`,
		"bad rotation": `{"video_file_id":1,"text":"x","rotation":400,"position":{"type":"absolute","x":0,"y":0},"style":{"font_size":20,"color":"#000000"}}`,
	}
	for name, raw := range cases {
		_, err := ParseConfig(JobTextOverlay, json.RawMessage(raw))
		assert.Error(t, err, name)
	}
}

func TestSubtitlesConfig_XOR(t *testing.T) {
	_, err := ParseConfig(JobSubtitles, json.RawMessage(
		`{"video_file_id":1,"subtitle_file_id":2,"subtitle_text":[{"start":0,"end":1,"text":"hi"}],"format":"SRT"}`))
	assert.Error(t, err, "file id and inline cues are mutually exclusive")

	_, err = ParseConfig(JobSubtitles, json.RawMessage(`{"video_file_id":1,"format":"SRT"}`))
	assert.Error(t, err, "one source is required")

	cfg, err := ParseConfig(JobSubtitles, json.RawMessage(
		`{"video_file_id":1,"subtitle_text":[{"start":0,"end":2,"text":"hi"}],"format":"SRT"}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, cfg.InputIDs())
}

func TestVideoOverlayConfig(t *testing.T) {
	cfg, err := ParseConfig(JobVideoOverlay, json.RawMessage(
		`{"base_video_file_id":1,"overlay_video_file_id":2,"config":{"x":10,"y":10,"scale":0.25,"shape":"circle"}}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cfg.InputIDs())

	_, err = ParseConfig(JobVideoOverlay, json.RawMessage(
		`{"base_video_file_id":1,"overlay_video_file_id":2,"config":{"x":0,"y":0,"scale":0.5,"width":100,"height":100}}`))
	assert.Error(t, err, "scale and explicit size are exclusive")

	_, err = ParseConfig(JobVideoOverlay, json.RawMessage(
		`{"base_video_file_id":1,"overlay_video_file_id":2,"config":{"x":0,"y":0,"shape":"rounded"}}`))
	assert.Error(t, err, "rounded requires border_radius")
}

func TestCombinedConfig(t *testing.T) {
	raw := `{
		"base_file_id": 5,
		"operations": [
			{"type":"text_overlay","config":{"video_file_id":5,"text":"hi","position":{"type":"absolute","x":0,"y":0},"style":{"font_size":24,"color":"#00FF00"}}},
			{"type":"audio_overlay","config":{"video_file_id":5,"audio_file_id":7,"mode":"replace"}}
		]
	}`
	cfg, err := ParseConfig(JobCombined, json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7}, cfg.InputIDs())
}

func TestCombinedConfig_Bounds(t *testing.T) {
	_, err := ParseConfig(JobCombined, json.RawMessage(
		`{"base_file_id":1,"operations":[{"type":"join","config":{"file_ids":[1,2]}}]}`))
	assert.Error(t, err, "fewer than 2 operations")

	_, err = ParseConfig(JobCombined, json.RawMessage(
		`{"base_file_id":1,"operations":[{"type":"combined","config":{}},{"type":"combined","config":{}}]}`))
	assert.Error(t, err, "nesting is rejected")
}

func TestSortedIDs(t *testing.T) {
	ids := []int64{9, 1, 5}
	sorted := SortedIDs(ids)
	assert.Equal(t, []int64{1, 5, 9}, sorted)
	assert.Equal(t, []int64{9, 1, 5}, ids, "input must not be mutated")
}
