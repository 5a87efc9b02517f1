package notifications

import (
	"strings"
	"testing"
)

func TestDeviceIconSVG(t *testing.T) {
	svg := DeviceIconSVG("keys", "#ffffff", 0)
	for _, want := range []string{
		`width="36" height="36"`,
		`r="18" fill="#ffffff"`,
		`r="14" fill="#FFFFFF"`,
		`font-size="18px"`,
		`fill="#333333"`,
		">\n    K\n</text>",
	} {
		if !strings.Contains(svg, want) {
			t.Errorf("svg missing %q:\n%s", want, svg)
		}
	}
}

func TestDeviceIconSVGDarkRingUsesWhiteText(t *testing.T) {
	svg := DeviceIconSVG("A", "#000000", 36)
	if !strings.Contains(svg, `font-weight="bold" fill="#FFFFFF"`) {
		t.Fatalf("expected white text on dark ring:\n%s", svg)
	}
}

func TestDeviceIconSVGInvalidColorFallsBack(t *testing.T) {
	svg := DeviceIconSVG("x", "red", 36)
	if !strings.Contains(svg, `fill="`+DefaultColor("X")+`"`) {
		t.Fatalf("expected default colour for label:\n%s", svg)
	}
}

func TestDeviceIconSVGEscapesLabel(t *testing.T) {
	svg := DeviceIconSVG("<b", "#123456", 36)
	if strings.Contains(svg, "<B") || !strings.Contains(svg, "&lt;") {
		t.Fatalf("label not escaped:\n%s", svg)
	}
}

func TestIconLabel(t *testing.T) {
	cases := map[string]string{
		"":      "?",
		"keys":  "K",
		"é":     "É",
		"🔑abc": "🔑A",
	}
	for in, want := range cases {
		if got := iconLabel(in); got != want {
			t.Errorf("iconLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidColor(t *testing.T) {
	if !ValidColor("#A0b1C2") || ValidColor("#abc") || ValidColor("a0b1c2") {
		t.Fatal("ValidColor mismatch")
	}
}
