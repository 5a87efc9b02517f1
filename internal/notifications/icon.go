package notifications

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultIconSize = 36
	maxIconSize     = 512
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether c is a #rrggbb colour.
func ValidColor(c string) bool {
	return hexColor.MatchString(c)
}

// iconLabel keeps the first one or two runes of label, upper-cased. Two
// runes are kept when the first is outside the BMP so that emoji with a
// trailing selector survive.
func iconLabel(label string) string {
	if label == "" {
		return "?"
	}
	first, _ := utf8.DecodeRuneInString(label)
	n := 1
	if first > 0xFFFF {
		n = 2
	}
	runes := []rune(label)
	if len(runes) > n {
		runes = runes[:n]
	}
	return strings.ToUpper(string(runes))
}

// DeviceIconSVG renders a round device badge: coloured ring, white fill and
// the label in a colour that contrasts with the ring. Invalid colours fall
// back to the label's default colour; size is clamped to [1, 512] and
// defaults to 36.
func DeviceIconSVG(label, color string, size int) string {
	label = iconLabel(label)
	if !ValidColor(color) {
		color = DefaultColor(label)
	}
	if size <= 0 {
		size = defaultIconSize
	}
	size = min(size, maxIconSize)

	border := max(1, roundHalfEven(float64(size)*0.1))
	inner := max(1, roundHalfEven(float64(size)/2)-border)
	textSize := float64(size) * 0.40
	if utf8.RuneCountInString(label) == 1 {
		textSize = float64(size) * 0.50
	}

	textColor := "#FFFFFF"
	if luminance(color) > 0.5 {
		textColor = "#333333"
	}

	half := strconv.FormatFloat(float64(size)/2, 'f', -1, 64)
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<circle cx="%s" cy="%s" r="%s" fill="%s" />
<circle cx="%s" cy="%s" r="%d" fill="#FFFFFF" />
<text x="50%%" y="50%%" dominant-baseline="central" text-anchor="middle"
        font-family="sans-serif" font-size="%spx" font-weight="bold" fill="%s">
    %s
</text>
</svg>`,
		size, size, size, size,
		half, half, half, color,
		half, half, inner,
		strconv.FormatFloat(textSize, 'f', -1, 64), textColor,
		html.EscapeString(label))
}

// luminance returns the relative luminance of a #rrggbb colour in [0, 1].
func luminance(color string) float64 {
	v, err := strconv.ParseUint(strings.TrimPrefix(color, "#"), 16, 32)
	if err != nil {
		return 0
	}
	r := float64((v >> 16) & 0xFF)
	g := float64((v >> 8) & 0xFF)
	b := float64(v & 0xFF)
	return (0.2126*r + 0.7152*g + 0.0722*b) / 255
}

func roundHalfEven(v float64) int {
	return int(math.RoundToEven(v))
}
