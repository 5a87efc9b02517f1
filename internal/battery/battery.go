// Package battery normalises the heterogeneous battery fields of accessory
// reports into a percentage and a display label.
package battery

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tagwatch/tagwatch/internal/model"
)

// Labels.
const (
	LabelVeryLow = "Very Low"
	LabelLow     = "Low"
	LabelMedium  = "Medium"
	LabelHigh    = "High"
	LabelFull    = "Full"
	LabelUnknown = "Unknown"
)

// Result is the classifier output. Level is meaningful only when HasLevel.
type Result struct {
	Level    float64
	HasLevel bool
	Label    string
}

// statusLevels maps accessory status codes to nominal percentages.
var statusLevels = map[int]float64{
	0:   100,
	32:  90,
	64:  50,
	128: 30,
	192: 10,
}

// textLevels maps lower-cased textual battery values to nominal percentages.
var textLevels = map[string]float64{
	"very low": 10,
	"low":      25,
	"medium":   50,
	"high":     85,
	"full":     100,
}

// Classify resolves a level from, in order, the status code, a numeric
// battery value, or a recognised battery string. When a level is found the
// label is always derived from it against lowThreshold.
func Classify(raw model.BatteryReading, status model.StatusCode, lowThreshold float64) Result {
	if status.Set {
		if lvl, ok := statusLevels[status.Value]; ok {
			return withLevel(lvl, lowThreshold)
		}
	}

	if !raw.Set {
		return Result{Label: LabelUnknown}
	}
	if raw.Numeric {
		return withLevel(raw.Number, lowThreshold)
	}
	if lvl, ok := textLevels[strings.ToLower(raw.Text)]; ok {
		return withLevel(lvl, lowThreshold)
	}
	if raw.Text == "" {
		return Result{Label: LabelUnknown}
	}
	return Result{Label: capitalize(raw.Text)}
}

// LabelFor derives the display label for a level.
func LabelFor(level, lowThreshold float64) string {
	switch {
	case level < lowThreshold:
		return LabelVeryLow
	case level < 30:
		return LabelLow
	case level < 70:
		return LabelMedium
	case level < 95:
		return LabelHigh
	default:
		return LabelFull
	}
}

func withLevel(level, lowThreshold float64) Result {
	return Result{Level: level, HasLevel: true, Label: LabelFor(level, lowThreshold)}
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
