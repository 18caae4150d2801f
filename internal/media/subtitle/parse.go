// SPDX-License-Identifier: MIT

package subtitle

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/clipwork/clipwork/internal/xerr"
)

var (
	// SRT: HH:MM:SS,mmm
	srtTimeRe = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})$`)
	// VTT: HH:MM:SS.mmm (the hour part may be absent)
	vttTimeRe = regexp.MustCompile(`^(?:(\d{2,}):)?(\d{2}):(\d{2})\.(\d{3})$`)
	// ASS/SSA: H:MM:SS.cc
	assTimeRe = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})\.(\d{2})$`)
)

// ParseSRTTime converts "HH:MM:SS,mmm" to seconds.
func ParseSRTTime(ts string) (float64, error) {
	m := srtTimeRe.FindStringSubmatch(strings.TrimSpace(ts))
	if m == nil {
		return 0, xerr.Newf(xerr.Validation, "invalid SRT timestamp %q", ts)
	}
	return hmsToSeconds(m[1], m[2], m[3]) + msToSeconds(m[4], 1000), nil
}

// ParseVTTTime converts "HH:MM:SS.mmm" (hours optional) to seconds.
func ParseVTTTime(ts string) (float64, error) {
	m := vttTimeRe.FindStringSubmatch(strings.TrimSpace(ts))
	if m == nil {
		return 0, xerr.Newf(xerr.Validation, "invalid VTT timestamp %q", ts)
	}
	h := m[1]
	if h == "" {
		h = "0"
	}
	return hmsToSeconds(h, m[2], m[3]) + msToSeconds(m[4], 1000), nil
}

// ParseASSTime converts "H:MM:SS.cc" (centiseconds) to seconds.
func ParseASSTime(ts string) (float64, error) {
	m := assTimeRe.FindStringSubmatch(strings.TrimSpace(ts))
	if m == nil {
		return 0, xerr.Newf(xerr.Validation, "invalid ASS timestamp %q", ts)
	}
	return hmsToSeconds(m[1], m[2], m[3]) + msToSeconds(m[4], 100), nil
}

func hmsToSeconds(h, m, s string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	return float64(hh)*3600 + float64(mm)*60 + float64(ss)
}

func msToSeconds(frac string, base float64) float64 {
	v, _ := strconv.Atoi(frac)
	return float64(v) / base
}

// parseSRT reads blank-line separated blocks: index, timing line, text lines.
func parseSRT(content string) ([]Cue, error) {
	var cues []Cue
	for _, block := range splitBlocks(content) {
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}
		// first line is the numeric index; tolerate its absence
		timingIdx := 0
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			timingIdx = 1
		}
		if timingIdx >= len(lines) {
			continue
		}
		start, end, ok := splitTiming(lines[timingIdx], "-->")
		if !ok {
			continue
		}
		startS, err := ParseSRTTime(start)
		if err != nil {
			return nil, err
		}
		endS, err := ParseSRTTime(end)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(strings.Join(lines[timingIdx+1:], "\n"))
		if text == "" {
			continue
		}
		cues = append(cues, Cue{Start: startS, End: endS, Text: text})
	}
	return cues, nil
}

// parseVTT ignores the WEBVTT preamble and NOTE blocks, then reads cues.
func parseVTT(content string) ([]Cue, error) {
	var cues []Cue
	for _, block := range splitBlocks(content) {
		lines := strings.Split(block, "\n")
		if len(lines) == 0 {
			continue
		}
		first := strings.TrimSpace(lines[0])
		if strings.HasPrefix(first, "WEBVTT") || strings.HasPrefix(first, "NOTE") || strings.HasPrefix(first, "STYLE") {
			continue
		}
		// an optional cue identifier precedes the timing line
		timingIdx := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timingIdx = i
				break
			}
		}
		if timingIdx < 0 {
			continue
		}
		start, end, ok := splitTiming(lines[timingIdx], "-->")
		if !ok {
			continue
		}
		// cue settings after the end timestamp (position, align) are dropped
		endFields := strings.Fields(end)
		if len(endFields) == 0 {
			continue
		}
		end = endFields[0]
		startS, err := ParseVTTTime(start)
		if err != nil {
			return nil, err
		}
		endS, err := ParseVTTTime(end)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(strings.Join(lines[timingIdx+1:], "\n"))
		if text == "" {
			continue
		}
		cues = append(cues, Cue{Start: startS, End: endS, Text: text})
	}
	return cues, nil
}

// parseASS reads Dialogue lines from the [Events] section. The event format
// is layer,start,end,style,name,marginL,marginR,marginV,effect,text; the text
// is everything after the ninth comma and may itself contain commas.
func parseASS(content string) ([]Cue, error) {
	var cues []Cue
	inEvents := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		switch {
		case strings.HasPrefix(line, "["):
			inEvents = strings.EqualFold(line, "[Events]")
			continue
		case !inEvents || !strings.HasPrefix(line, "Dialogue:"):
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "Dialogue:"))
		fields := strings.SplitN(payload, ",", 10)
		if len(fields) < 10 {
			return nil, xerr.Newf(xerr.Validation, "malformed Dialogue line: %q", line)
		}
		start, err := ParseASSTime(fields[1])
		if err != nil {
			return nil, err
		}
		end, err := ParseASSTime(fields[2])
		if err != nil {
			return nil, err
		}
		layer, _ := strconv.Atoi(strings.TrimSpace(fields[0]))
		marginL, _ := strconv.Atoi(strings.TrimSpace(fields[5]))
		marginR, _ := strconv.Atoi(strings.TrimSpace(fields[6]))
		marginV, _ := strconv.Atoi(strings.TrimSpace(fields[7]))

		text := cleanASSText(fields[9])
		if text == "" {
			continue
		}
		cues = append(cues, Cue{
			Start:   start,
			End:     end,
			Text:    text,
			Layer:   layer,
			Style:   strings.TrimSpace(fields[3]),
			MarginL: marginL,
			MarginR: marginR,
			MarginV: marginV,
		})
	}
	return cues, nil
}

var assTagRe = regexp.MustCompile(`\{[^}]*\}`)

// cleanASSText strips override tags and normalizes ASS line breaks.
func cleanASSText(text string) string {
	text = assTagRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, `\N`, "\n")
	text = strings.ReplaceAll(text, `\n`, "\n")
	return strings.TrimSpace(text)
}

func splitBlocks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return regexp.MustCompile(`\n{2,}`).Split(strings.TrimSpace(content), -1)
}

func splitTiming(line, sep string) (start, end string, ok bool) {
	parts := strings.SplitN(line, sep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
