package nmea

import (
	"strings"
	"testing"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"github.com/signalsfoundry/gpsfix/model"
)

func testFix() model.Fix {
	return model.Fix{
		Position:       model.GeoPosition{Latitude: 48.1173, Longitude: 11.516666},
		AltitudeMeters: 545.4,
		Satellites:     8,
		HeadingDegrees: 84.4,
		Time:           time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC),
	}
}

func TestFormatGGA(t *testing.T) {
	got := FormatGGA(testFix())
	want := "$GPGGA,123519.00,4807.0380,N,01131.0000,E,1,08,1.0,545.4,M,0.0,M,,*"
	if !strings.HasPrefix(got, want) {
		t.Fatalf("FormatGGA = %q, want prefix %q", got, want)
	}

	s, err := gonmea.Parse(got)
	if err != nil {
		t.Fatalf("go-nmea rejected %q: %v", got, err)
	}
	gga, ok := s.(gonmea.GGA)
	if !ok {
		t.Fatalf("parsed %T, want GGA", s)
	}
	if gga.NumSatellites != 8 || gga.FixQuality != gonmea.GPS {
		t.Fatalf("satellites/quality = %d/%q", gga.NumSatellites, gga.FixQuality)
	}
}

func TestFormatRMCIsAcceptedByParser(t *testing.T) {
	fix := testFix()
	fix.Position = model.GeoPosition{Latitude: -33.8688, Longitude: -151.2093}

	s, err := gonmea.Parse(FormatRMC(fix))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rmc := s.(gonmea.RMC)
	if rmc.Validity != gonmea.ValidRMC {
		t.Fatalf("validity = %q", rmc.Validity)
	}
	if d := rmc.Latitude - fix.Position.Latitude; d > 1e-5 || d < -1e-5 {
		t.Fatalf("latitude = %v, want %v", rmc.Latitude, fix.Position.Latitude)
	}
	if d := rmc.Longitude - fix.Position.Longitude; d > 1e-5 || d < -1e-5 {
		t.Fatalf("longitude = %v, want %v", rmc.Longitude, fix.Position.Longitude)
	}
	if rmc.Date.DD != 23 || rmc.Date.MM != 3 || rmc.Date.YY != 94 {
		t.Fatalf("date = %v", rmc.Date)
	}
}

func TestCoordCarriesRoundedMinutes(t *testing.T) {
	cases := []struct {
		dec   float64
		isLat bool
		value string
		dir   string
	}{
		{52.5, true, "5230.0000", "N"},
		{-0.5, true, "0030.0000", "S"},
		{13.4, false, "01324.0000", "E"},
		{-179.999999999, false, "18000.0000", "W"},
		{0, false, "00000.0000", "E"},
	}
	for _, tc := range cases {
		value, dir := coord(tc.dec, tc.isLat)
		if value != tc.value || dir != tc.dir {
			t.Fatalf("coord(%v) = %s,%s want %s,%s", tc.dec, value, dir, tc.value, tc.dir)
		}
	}
}
