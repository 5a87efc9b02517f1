// Package model holds the value types shared by the decision engine, the
// state store and the HTTP surface.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Report is one location/battery observation for a device, as produced by
// the accessory fetcher. Any field may be absent.
type Report struct {
	Lat                *float64       `json:"lat,omitempty"`
	Lon                *float64       `json:"lon,omitempty"`
	Timestamp          string         `json:"timestamp,omitempty"`
	Battery            BatteryReading `json:"battery"`
	Status             StatusCode     `json:"status"`
	HorizontalAccuracy *float64       `json:"horizontalAccuracy,omitempty"`
}

// HasLocation reports whether both coordinates are present.
func (r *Report) HasLocation() bool {
	return r != nil && r.Lat != nil && r.Lon != nil
}

// Time parses the report timestamp. Offset-less timestamps are taken as UTC.
func (r *Report) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone offset.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// --------------------------------------------------------------------------
// Battery reading: JSON number, string, or null
// --------------------------------------------------------------------------

// BatteryReading is the raw battery field of a report.
type BatteryReading struct {
	Number  float64
	Text    string
	Numeric bool
	Set     bool
}

// BatteryNumber builds a numeric reading.
func BatteryNumber(v float64) BatteryReading {
	return BatteryReading{Number: v, Numeric: true, Set: true}
}

// BatteryText builds a string reading.
func BatteryText(s string) BatteryReading {
	return BatteryReading{Text: s, Set: true}
}

func (b *BatteryReading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*b = BatteryReading{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode battery string: %w", err)
		}
		*b = BatteryText(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		// Booleans, objects and arrays carry no battery information.
		return nil
	}
	*b = BatteryNumber(f)
	return nil
}

func (b BatteryReading) MarshalJSON() ([]byte, error) {
	switch {
	case !b.Set:
		return []byte("null"), nil
	case b.Numeric:
		return json.Marshal(b.Number)
	default:
		return json.Marshal(b.Text)
	}
}

// --------------------------------------------------------------------------
// Status code: JSON integer, integer string, or null
// --------------------------------------------------------------------------

// StatusCode is the accessory status byte. Only the battery bits matter here.
type StatusCode struct {
	Value int
	Set   bool
}

// Status builds a present status code.
func Status(v int) StatusCode {
	return StatusCode{Value: v, Set: true}
}

func (s *StatusCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = StatusCode{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("decode status string: %w", err)
		}
		if n, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			*s = Status(n)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	*s = Status(int(f))
	return nil
}

func (s StatusCode) MarshalJSON() ([]byte, error) {
	if !s.Set {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}
