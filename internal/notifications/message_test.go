package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
)

func TestFormatRelative(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Minute, "Just now"},
		{0, "Just now"},
		{4 * time.Second, "Just now"},
		{5 * time.Second, "5 sec ago"},
		{59 * time.Second, "59 sec ago"},
		{60 * time.Second, "1 min ago"},
		{59*time.Minute + 59*time.Second, "59 min ago"},
		{time.Hour, "1 hr ago"},
		{23 * time.Hour, "23 hr ago"},
		{24 * time.Hour, "1 day ago"},
		{47 * time.Hour, "1 day ago"},
		{48 * time.Hour, "2 days ago"},
		{6 * 24 * time.Hour, "6 days ago"},
		{7 * 24 * time.Hour, "May 03"},
	}
	for _, tt := range tests {
		if got := FormatRelative(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatRelative(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestTimestampParts(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("CEST", 2*3600)

	abs, rel := timestampParts("2024-05-10T11:30:00Z", now, loc)
	if abs != "10/05/2024 13:30" || rel != "30 min ago" {
		t.Errorf("got (%q, %q)", abs, rel)
	}

	abs, rel = timestampParts("", now, loc)
	if abs != timeUnknown || rel != timeUnknown {
		t.Errorf("missing timestamp: got (%q, %q)", abs, rel)
	}

	abs, rel = timestampParts("yesterday-ish", now, loc)
	if abs != timeInvalid || rel != timeInvalid {
		t.Errorf("invalid timestamp: got (%q, %q)", abs, rel)
	}
}

func TestDefaultColor(t *testing.T) {
	tests := map[string]string{
		"":          "#70757a",
		"dev1":      "#1cecaa",
		"x":         "#2c2ca4",
		"abc":       "#1c937d",
		"AirTag-01": "#2178e0",
		"device-42": "#74de4a",
		"d109":      "#5a7338", // grey input gets boosted
	}
	for id, want := range tests {
		if got := DefaultColor(id); got != want {
			t.Errorf("DefaultColor(%q) = %s, want %s", id, got, want)
		}
	}
}

var testIcons = config.IconPaths{
	DefaultIcon:        "/static/icon.png",
	DefaultBadge:       "/static/badge.png",
	GeofenceEntryBadge: "/static/entry.png",
	GeofenceExitBadge:  "/static/exit.png",
	BatteryLowBadge:    "/static/battery.png",
	TestBadge:          "/static/test-badge.png",
	WelcomeBadge:       "/static/welcome-badge.png",
	WelcomeIcon:        "/static/welcome.png",
	TestIcon:           "/static/test.png",
}

func decodePayload(t *testing.T, raw []byte) pushNotification {
	t.Helper()
	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return p.Notification
}

func TestBuildPayloadDeviceEvent(t *testing.T) {
	n := Notification{
		Type:        TypeGeofenceExit,
		Title:       "Keys Exited Home",
		Body:        "body",
		Tag:         "geofence-dev1-home-exit-1",
		Data:        map[string]any{"deviceId": "dev1"},
		DeviceID:    "dev1",
		DeviceLabel: "K&Y",
		DeviceColor: "#ff0000",
	}
	raw, err := BuildPayload(n, testIcons, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	p := decodePayload(t, raw)

	if p.Icon != "/api/utils/generate_icon?label=K%26Y&color=%23ff0000" {
		t.Errorf("icon = %q", p.Icon)
	}
	if p.Badge != testIcons.GeofenceExitBadge {
		t.Errorf("badge = %q", p.Badge)
	}
	if p.Tag != n.Tag || p.Renotify || p.RequireInteraction {
		t.Errorf("unexpected flags/tag: %+v", p)
	}
	if len(p.Actions) != 1 || p.Actions[0].Action != "view_device" || p.Actions[0].Title != "View Device" {
		t.Errorf("actions = %+v", p.Actions)
	}
}

func TestBuildPayloadDefaultsColor(t *testing.T) {
	n := Notification{Type: TypeBatteryLow, DeviceID: "dev1", DeviceLabel: "K"}
	raw, err := BuildPayload(n, testIcons, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	p := decodePayload(t, raw)
	if p.Icon != "/api/utils/generate_icon?label=K&color=%231cecaa" {
		t.Errorf("icon = %q", p.Icon)
	}
	if p.Badge != testIcons.BatteryLowBadge {
		t.Errorf("badge = %q", p.Badge)
	}
}

func TestBuildPayloadNonDeviceTypes(t *testing.T) {
	tests := []struct {
		typ         string
		icon, badge string
	}{
		{TypeWelcome, testIcons.WelcomeIcon, testIcons.WelcomeBadge},
		{TypeTest, testIcons.TestIcon, testIcons.TestBadge},
		{"other", testIcons.DefaultIcon, testIcons.DefaultBadge},
	}
	for _, tt := range tests {
		raw, err := BuildPayload(Notification{Type: tt.typ, Title: "t"}, testIcons, time.Unix(1700000000, 0))
		if err != nil {
			t.Fatalf("BuildPayload(%s): %v", tt.typ, err)
		}
		p := decodePayload(t, raw)
		if p.Icon != tt.icon || p.Badge != tt.badge {
			t.Errorf("%s: icon=%q badge=%q", tt.typ, p.Icon, p.Badge)
		}
		if p.Tag != "notification-1700000000" {
			t.Errorf("%s: fallback tag = %q", tt.typ, p.Tag)
		}
		if len(p.Actions) != 0 || p.Data == nil {
			t.Errorf("%s: actions=%v data=%v", tt.typ, p.Actions, p.Data)
		}
	}
}

func TestBatteryNotificationWithLocation(t *testing.T) {
	lat, lon := 52.37, 4.89
	c := eventContext{
		deviceID: "dev1",
		device:   model.DeviceConfig{},
		report:   &model.Report{Lat: &lat, Lon: &lon, Timestamp: "2024-05-10T11:59:58Z"},
		now:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		loc:      time.UTC,
	}
	n := batteryNotification(c, 9)
	if n.Title != "dev1 Battery Low" {
		t.Errorf("title = %q", n.Title)
	}
	want := "Battery is low (9%). Last at 10/05/2024 11:59 (Just now). Loc: 52.3700, 4.8900"
	if n.Body != want {
		t.Errorf("body = %q, want %q", n.Body, want)
	}
	if n.DeviceLabel != model.DefaultDeviceLabel {
		t.Errorf("label = %q", n.DeviceLabel)
	}
}
