// SPDX-License-Identifier: MIT

package subtitle

import (
	"fmt"
	"strings"

	"github.com/clipwork/clipwork/internal/model"
)

// ASSColor converts "#RRGGBB" into the &HAABBGGRR form the subtitles filter
// accepts. Alpha 0 means opaque in ASS.
func ASSColor(hex string) string {
	if len(hex) != 7 || hex[0] != '#' {
		return "&H00FFFFFF"
	}
	r, g, b := hex[1:3], hex[3:5], hex[5:7]
	return strings.ToUpper(fmt.Sprintf("&H00%s%s%s", b, g, r))
}

// ASS alignment codes (numpad layout): 2 bottom-center, 5 center, 8 top-center.
func assAlignment(position string) int {
	switch position {
	case "top":
		return 8
	case "center":
		return 5
	default:
		return 2
	}
}

// ForceStyle synthesizes the force_style block for the subtitles filter from
// the caller's style record. Booleans serialize as 1/0, the form libass
// accepts.
func ForceStyle(style *model.SubtitleStyle, position string) string {
	var parts []string
	if style != nil {
		if style.FontFamily != "" {
			parts = append(parts, "FontName="+style.FontFamily)
		}
		if style.FontSize > 0 {
			parts = append(parts, fmt.Sprintf("FontSize=%d", style.FontSize))
		}
		if style.Color != "" {
			parts = append(parts, "PrimaryColour="+ASSColor(style.Color))
		}
		if style.OutlineColor != "" {
			parts = append(parts, "OutlineColour="+ASSColor(style.OutlineColor))
		}
		if style.OutlineWidth > 0 {
			parts = append(parts, fmt.Sprintf("Outline=%d", style.OutlineWidth))
		}
		if style.Bold {
			parts = append(parts, "Bold=1")
		}
	}
	if position != "" {
		parts = append(parts, fmt.Sprintf("Alignment=%d", assAlignment(position)))
	}
	return strings.Join(parts, ",")
}
