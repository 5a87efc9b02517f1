package geo

import (
	"math"
	"testing"

	"github.com/tagwatch/tagwatch/internal/model"
)

func TestDistanceMetersSamePoint(t *testing.T) {
	if d := DistanceMeters(51.5, -0.12, 51.5, -0.12); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestDistanceMetersKnownPairs(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		// One degree of latitude on a 6371 km sphere.
		{"one degree latitude", 0, 0, 1, 0, 111_194.93, 1},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 343_556, 500},
		{"antipodal", 0, 0, 0, 180, math.Pi * EarthRadiusMeters, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Fatalf("expected %.2f ± %.0f, got %.2f", tt.want, tt.tolerance, got)
			}
		})
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := DistanceMeters(40.7128, -74.0060, 34.0522, -118.2437)
	b := DistanceMeters(34.0522, -118.2437, 40.7128, -74.0060)
	if math.Abs(a-b) > 1e-6 {
		t.Fatalf("expected symmetric distance, got %v and %v", a, b)
	}
}

func TestDistanceMetersInvalidInput(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if d := DistanceMeters(v, 0, 0, 0); !math.IsInf(d, 1) {
			t.Fatalf("expected +Inf for %v, got %v", v, d)
		}
		if d := DistanceMeters(0, 0, 0, v); !math.IsInf(d, 1) {
			t.Fatalf("expected +Inf for %v, got %v", v, d)
		}
	}
}

func TestIsInside(t *testing.T) {
	g := model.Geofence{ID: "home", Name: "Home", Lat: 0, Lng: 0, Radius: 100}

	if !IsInside(0, 0, g) {
		t.Fatal("centre must be inside")
	}
	// ~111 m north of the centre.
	if IsInside(0.001, 0, g) {
		t.Fatal("point 111m away must be outside a 100m fence")
	}
	if IsInside(math.NaN(), 0, g) {
		t.Fatal("NaN input must be outside")
	}
}

func TestContainsBoundaryInclusive(t *testing.T) {
	d := DistanceMeters(0, 0, 0.0005, 0)
	g := model.Geofence{Lat: 0, Lng: 0, Radius: d}
	inside, got := Contains(g, 0.0005, 0)
	if !inside {
		t.Fatalf("point exactly on the boundary must be inside (d=%v)", got)
	}
}
