// SPDX-License-Identifier: MIT

// Package subtitle parses SRT, WebVTT and ASS/SSA files into a canonical cue
// list and synthesizes ASS styling for burn-in.
package subtitle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// Cue is one canonical subtitle event. Layer, Style and margins are only
// populated for ASS/SSA sources.
type Cue struct {
	Start   float64
	End     float64
	Text    string
	Layer   int
	Style   string
	MarginL int
	MarginR int
	MarginV int
}

// Parse decodes content in the named format (SRT, VTT, ASS, SSA) into cues.
func Parse(format, content string) ([]Cue, error) {
	var (
		cues []Cue
		err  error
	)
	switch strings.ToUpper(format) {
	case "SRT":
		cues, err = parseSRT(content)
	case "VTT":
		cues, err = parseVTT(content)
	case "ASS", "SSA":
		cues, err = parseASS(content)
	default:
		return nil, xerr.Newf(xerr.Validation, "unknown subtitle format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, xerr.Newf(xerr.Validation, "no cues found in %s input", format)
	}
	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	return cues, nil
}

// FromInline converts an inline cue list from a job config.
func FromInline(inline []model.InlineCue) []Cue {
	cues := make([]Cue, len(inline))
	for i, c := range inline {
		cues[i] = Cue{Start: c.Start, End: c.End, Text: c.Text}
	}
	return cues
}

// FormatSRT renders cues as an SRT document, the interchange form handed to
// the burn-in filter.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(seconds*1000 + 0.5)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
