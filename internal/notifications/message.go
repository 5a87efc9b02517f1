package notifications

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
)

const (
	timeUnknown = "Unknown Time"
	timeInvalid = "Invalid Time"

	absoluteLayout = "02/01/2006 15:04"
	dateLayout     = "Jan 02"

	fallbackColor = "#70757a"
)

// --------------------------------------------------------------------------
// Time formatting
// --------------------------------------------------------------------------

// FormatRelative renders how long before now t was, e.g. "5 min ago".
// Future times read as "Just now"; anything a week or older is a date.
func FormatRelative(t, now time.Time) string {
	delta := now.Sub(t)
	if delta < 0 {
		return "Just now"
	}
	seconds := delta.Seconds()
	switch {
	case seconds < 5:
		return "Just now"
	case seconds < 60:
		return fmt.Sprintf("%d sec ago", int(seconds))
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%d min ago", int(minutes))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d hr ago", int(hours))
	}
	days := hours / 24
	if days < 7 {
		if days >= 2 {
			return fmt.Sprintf("%d days ago", int(days))
		}
		return fmt.Sprintf("%d day ago", int(days))
	}
	return t.UTC().Format(dateLayout)
}

// FormatAbsolute renders t as dd/mm/yyyy HH:MM in loc.
func FormatAbsolute(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(absoluteLayout)
}

// timestampParts formats a report timestamp both ways.
func timestampParts(ts string, now time.Time, loc *time.Location) (absolute, relative string) {
	if strings.TrimSpace(ts) == "" {
		return timeUnknown, timeUnknown
	}
	t, err := model.ParseTimestamp(ts)
	if err != nil {
		return timeInvalid, timeInvalid
	}
	return FormatAbsolute(t, loc), FormatRelative(t, now)
}

// --------------------------------------------------------------------------
// Notification assembly
// --------------------------------------------------------------------------

type eventContext struct {
	deviceID string
	device   model.DeviceConfig
	report   *model.Report
	now      time.Time
	loc      *time.Location
}

func (c eventContext) base(typ, title, body, tag string, data map[string]any) Notification {
	return Notification{
		Type:        typ,
		Title:       title,
		Body:        body,
		Tag:         tag,
		Data:        data,
		DeviceID:    c.deviceID,
		DeviceLabel: c.device.DisplayLabel(),
		DeviceColor: c.device.Color,
	}
}

func (c eventContext) timestampValue() any {
	if c.report.Timestamp == "" {
		return nil
	}
	return c.report.Timestamp
}

func geofenceNotification(c eventContext, g model.Geofence, entered bool, distance float64) Notification {
	abs, rel := timestampParts(c.report.Timestamp, c.now, c.loc)
	name := c.device.DisplayName(c.deviceID)
	lat, lon := *c.report.Lat, *c.report.Lon

	verb, direction, typ := "Exited", "exit", TypeGeofenceExit
	if entered {
		verb, direction, typ = "Entered", "entry", TypeGeofenceEntry
	}

	title := fmt.Sprintf("%s %s %s", name, verb, g.Name)
	body := fmt.Sprintf("At %s (%s). Loc: %.4f, %.4f (%.0fm from center)", abs, rel, lat, lon, distance)
	tag := fmt.Sprintf("geofence-%s-%s-%s-%d", c.deviceID, g.ID, direction, c.now.Unix()/60)
	data := map[string]any{
		"type":          "geofence",
		"deviceId":      c.deviceID,
		"geofenceId":    g.ID,
		"geofenceName":  g.Name,
		"lat":           lat,
		"lng":           lon,
		"timestamp_iso": c.timestampValue(),
		"eventType":     direction,
	}
	return c.base(typ, title, body, tag, data)
}

func batteryNotification(c eventContext, level float64) Notification {
	abs, rel := timestampParts(c.report.Timestamp, c.now, c.loc)
	name := c.device.DisplayName(c.deviceID)

	location := "Last location unknown."
	var lat, lon any
	if c.report.HasLocation() {
		lat, lon = *c.report.Lat, *c.report.Lon
		location = fmt.Sprintf("Last at %s (%s). Loc: %.4f, %.4f", abs, rel, *c.report.Lat, *c.report.Lon)
	}

	title := fmt.Sprintf("%s Battery Low", name)
	body := fmt.Sprintf("Battery is low (%.0f%%). %s", level, location)
	tag := fmt.Sprintf("battery-%s-low-%d", c.deviceID, c.now.Unix()/3600)
	data := map[string]any{
		"type":          "battery",
		"deviceId":      c.deviceID,
		"level":         level,
		"lat":           lat,
		"lng":           lon,
		"timestamp_iso": c.timestampValue(),
	}
	return c.base(TypeBatteryLow, title, body, tag, data)
}

// --------------------------------------------------------------------------
// Push payload
// --------------------------------------------------------------------------

type pushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type pushNotification struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Tag                string         `json:"tag"`
	Renotify           bool           `json:"renotify"`
	RequireInteraction bool           `json:"requireInteraction"`
	Data               map[string]any `json:"data"`
	Actions            []pushAction   `json:"actions"`
}

type pushPayload struct {
	Notification pushNotification `json:"notification"`
}

// BuildPayload renders the JSON body sent to push services.
func BuildPayload(n Notification, icons config.IconPaths, now time.Time) ([]byte, error) {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	tag := n.Tag
	if tag == "" {
		tag = fmt.Sprintf("notification-%d", now.Unix())
	}

	actions := []pushAction{}
	if n.isDeviceEvent() && n.DeviceID != "" {
		actions = append(actions, pushAction{Action: "view_device", Title: "View Device"})
	}

	p := pushPayload{Notification: pushNotification{
		Title:   n.Title,
		Body:    n.Body,
		Icon:    iconFor(n, icons),
		Badge:   badgeFor(n.Type, icons),
		Tag:     tag,
		Data:    data,
		Actions: actions,
	}}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}
	return out, nil
}

func iconFor(n Notification, icons config.IconPaths) string {
	switch {
	case n.isDeviceEvent() && n.DeviceLabel != "":
		color := n.DeviceColor
		if color == "" {
			color = DefaultColor(n.DeviceID)
		}
		return "/api/utils/generate_icon?label=" + url.QueryEscape(n.DeviceLabel) +
			"&color=%23" + url.QueryEscape(strings.TrimPrefix(color, "#"))
	case n.Type == TypeWelcome:
		return icons.WelcomeIcon
	case n.Type == TypeTest:
		return icons.TestIcon
	default:
		return icons.DefaultIcon
	}
}

func badgeFor(typ string, icons config.IconPaths) string {
	switch typ {
	case TypeGeofenceEntry:
		return icons.GeofenceEntryBadge
	case TypeGeofenceExit:
		return icons.GeofenceExitBadge
	case TypeBatteryLow:
		return icons.BatteryLowBadge
	case TypeTest:
		return icons.TestBadge
	case TypeWelcome:
		return icons.WelcomeBadge
	default:
		return icons.DefaultBadge
	}
}

// --------------------------------------------------------------------------
// Default device colour
// --------------------------------------------------------------------------

// DefaultColor derives a stable, mid-luminance colour from a device id.
func DefaultColor(id string) string {
	if id == "" {
		return fallbackColor
	}

	// Only the low 24 bits are used, so uint32 wrap-around is harmless.
	var hash uint32
	for _, r := range id {
		hash = uint32(r) + (hash << 5) - hash
	}
	r := float64((hash >> 16) & 0xFF)
	g := float64((hash >> 8) & 0xFF)
	b := float64(hash & 0xFF)

	shift := (128 - (r+g+b)/3) * 0.5
	comps := []struct {
		name byte
		v    float64
	}{
		{'r', clamp(r + shift)},
		{'g', clamp(g + shift)},
		{'b', clamp(b + shift)},
	}

	hi := max(comps[0].v, comps[1].v, comps[2].v)
	lo := min(comps[0].v, comps[1].v, comps[2].v)
	if hi-lo < 30 {
		// Too grey: push the strongest channel up and the weakest down.
		sorted := append(comps[:0:0], comps...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].v != sorted[j].v {
				return sorted[i].v < sorted[j].v
			}
			return sorted[i].name < sorted[j].name
		})
		sorted[2].v = min(255, sorted[2].v+20)
		sorted[0].v = max(0, sorted[0].v-10)
		for _, s := range sorted {
			for i := range comps {
				if comps[i].name == s.name {
					comps[i].v = s.v
				}
			}
		}
	}

	return fmt.Sprintf("#%02x%02x%02x", int(comps[0].v), int(comps[1].v), int(comps[2].v))
}

func clamp(v float64) float64 {
	return min(255, max(0, v))
}
