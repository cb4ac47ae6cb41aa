package core

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/gpsfix/model"
)

// ISS sample elements.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

// subPoint returns the ground position directly beneath an ECEF vector.
func subPoint(v Vec3) model.GeoPosition {
	return model.GeoPosition{
		Latitude:  math.Asin(v.Z/v.Norm()) * 180 / math.Pi,
		Longitude: math.Atan2(v.Y, v.X) * 180 / math.Pi,
	}
}

func TestLoadTLEsAcceptsNamedAndBareSets(t *testing.T) {
	src := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"",
		issLine1,
		issLine2,
	}, "\n")

	tles, err := LoadTLEs(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadTLEs: %v", err)
	}
	if len(tles) != 2 {
		t.Fatalf("got %d element sets, want 2", len(tles))
	}
	if tles[0].Name != "ISS (ZARYA)" || tles[1].Name != "" {
		t.Fatalf("names = %q, %q", tles[0].Name, tles[1].Name)
	}
}

func TestLoadTLEsRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"orphan line 2": issLine2,
		"truncated":     issLine1,
		"short line":    issLine1 + "\n2 25544  51.6459",
		"bad number":    issLine1 + "\n" + strings.Replace(issLine2, "51.6459", "51.6x59", 1),
		"name in set":   issLine1 + "\nNAME\n" + issLine2,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadTLEs(strings.NewReader(src)); !errors.Is(err, model.ErrParse) {
				t.Fatalf("LoadTLEs error = %v, want ErrParse", err)
			}
		})
	}
}

func TestNewConstellationSatellitesRejectsEmpty(t *testing.T) {
	if _, err := NewConstellationSatellites(nil); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestConstellationSatellitesCountsVisible(t *testing.T) {
	c, err := NewConstellationSatellites([]TLE{{Name: "ISS", Line1: issLine1, Line2: issLine2}})
	if err != nil {
		t.Fatalf("NewConstellationSatellites: %v", err)
	}
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)

	sat := satellite.TLEToSat(issLine1, issLine2, satellite.GravityWGS72)
	pos, ok := satelliteECEF(sat, at)
	if !ok {
		t.Fatalf("ISS propagation failed at %v", at)
	}
	below := subPoint(pos)
	antipode := model.GeoPosition{Latitude: -below.Latitude, Longitude: below.Longitude + 180}
	if antipode.Longitude > 180 {
		antipode.Longitude -= 360
	}

	if got := c.VisibleSatellites(at, below, 0); got != 1 {
		t.Fatalf("overhead count = %d, want 1", got)
	}

	c.Min = 0
	if got := c.VisibleSatellites(at, antipode, 0); got != 0 {
		t.Fatalf("antipode count = %d, want 0", got)
	}
	c.Min = MinSatellites
	if got := c.VisibleSatellites(at, antipode, 0); got != MinSatellites {
		t.Fatalf("antipode count with floor = %d, want %d", got, MinSatellites)
	}
}

func TestConstellationSatellitesCapsAtMax(t *testing.T) {
	tles := make([]TLE, 15)
	for i := range tles {
		tles[i] = TLE{Line1: issLine1, Line2: issLine2}
	}
	c, err := NewConstellationSatellites(tles)
	if err != nil {
		t.Fatalf("NewConstellationSatellites: %v", err)
	}
	if c.Size() != len(tles) {
		t.Fatalf("Size = %d, want %d", c.Size(), len(tles))
	}
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	pos, _ := satelliteECEF(c.sats[0], at)

	if got := c.VisibleSatellites(at, subPoint(pos), 0); got != MaxSatellites {
		t.Fatalf("count = %d, want cap %d", got, MaxSatellites)
	}
}

func TestFixedSatellites(t *testing.T) {
	if got := FixedSatellites(7).VisibleSatellites(time.Time{}, model.GeoPosition{}, 0); got != 7 {
		t.Fatalf("FixedSatellites = %d, want 7", got)
	}
}
