package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/gpsfix/model"
)

func TestGeodeticToECEFAxes(t *testing.T) {
	cases := []struct {
		name string
		pos  model.GeoPosition
		want Vec3
	}{
		{"equator prime meridian", model.GeoPosition{}, Vec3{X: EarthRadiusKm}},
		{"equator 90E", model.GeoPosition{Longitude: 90}, Vec3{Y: EarthRadiusKm}},
		{"north pole", model.GeoPosition{Latitude: 90}, Vec3{Z: EarthRadiusKm}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := GeodeticToECEF(tc.pos, 0)
			if got.DistanceTo(tc.want) > 1e-6 {
				t.Fatalf("GeodeticToECEF(%v) = %+v, want %+v", tc.pos, got, tc.want)
			}
		})
	}

	high := GeodeticToECEF(model.GeoPosition{Latitude: 10, Longitude: 20}, 100)
	if math.Abs(high.Norm()-(EarthRadiusKm+100)) > 1e-9 {
		t.Fatalf("altitude not applied: |v| = %v", high.Norm())
	}
}

func TestElevationDegrees(t *testing.T) {
	observer := Vec3{X: EarthRadiusKm}

	overhead := Vec3{X: EarthRadiusKm + 500}
	if got := ElevationDegrees(observer, overhead); math.Abs(got-90) > 1e-9 {
		t.Fatalf("overhead elevation = %v, want 90", got)
	}

	horizon := Vec3{X: EarthRadiusKm, Y: 1000}
	if got := ElevationDegrees(observer, horizon); math.Abs(got) > 1e-9 {
		t.Fatalf("horizon elevation = %v, want 0", got)
	}

	below := Vec3{X: -EarthRadiusKm}
	if got := ElevationDegrees(observer, below); got >= 0 {
		t.Fatalf("antipode elevation = %v, want negative", got)
	}

	if got := ElevationDegrees(observer, observer); got != 90 {
		t.Fatalf("coincident elevation = %v, want 90", got)
	}
}
