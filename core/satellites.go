package core

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/gpsfix/model"
)

const (
	// MinSatellites and MaxSatellites bound the count the console accepts.
	MinSatellites = 1
	MaxSatellites = 12

	// DefaultElevationMaskDegrees hides satellites close to the horizon.
	DefaultElevationMaskDegrees = 10.0

	tleLineLength = 69
)

// SatelliteProvider reports how many satellites a fix at pos claims to see.
type SatelliteProvider interface {
	VisibleSatellites(t time.Time, pos model.GeoPosition, altitudeMeters float64) int
}

// FixedSatellites reports the same count for every fix.
type FixedSatellites int

// VisibleSatellites returns the fixed count.
func (n FixedSatellites) VisibleSatellites(time.Time, model.GeoPosition, float64) int {
	return int(n)
}

// TLE is one two-line element set with an optional name line.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

// LoadTLEs reads 2- or 3-line element sets. Blank lines are ignored.
func LoadTLEs(r io.Reader) ([]TLE, error) {
	var (
		out     []TLE
		pending TLE
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \r")
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "1 "):
			if pending.Line1 != "" {
				return nil, fmt.Errorf("%w: line %d: element line 1 without line 2", model.ErrParse, lineNo)
			}
			pending.Line1 = line
		case strings.HasPrefix(line, "2 "):
			if pending.Line1 == "" {
				return nil, fmt.Errorf("%w: line %d: element line 2 without line 1", model.ErrParse, lineNo)
			}
			pending.Line2 = line
			if err := validateTLE(pending); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			out = append(out, pending)
			pending = TLE{}
		default:
			if pending.Line1 != "" {
				return nil, fmt.Errorf("%w: line %d: expected element line 2", model.ErrParse, lineNo)
			}
			pending.Name = strings.TrimSpace(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tle: %w", err)
	}
	if pending.Line1 != "" {
		return nil, fmt.Errorf("%w: truncated element set at end of input", model.ErrParse)
	}
	return out, nil
}

// validateTLE checks the fixed-column fields SGP4 initialisation reads, so
// malformed input is reported as an error instead of reaching the propagator.
func validateTLE(t TLE) error {
	if len(t.Line1) < tleLineLength || len(t.Line2) < tleLineLength {
		return fmt.Errorf("%w: element lines must be %d columns", model.ErrParse, tleLineLength)
	}
	l1, l2 := t.Line1, t.Line2
	fields := []struct {
		name string
		raw  string
	}{
		{"satellite number", strings.TrimSpace(l1[2:7])},
		{"epoch year", l1[18:20]},
		{"epoch day", l1[20:32]},
		{"mean motion derivative", strings.ReplaceAll(l1[33:43], " ", "")},
		{"drag term", strings.ReplaceAll(l1[53:54]+"."+l1[54:59]+"e"+l1[59:61], " ", "")},
		{"inclination", strings.TrimSpace(l2[8:16])},
		{"right ascension", strings.TrimSpace(l2[17:25])},
		{"eccentricity", "." + l2[26:33]},
		{"argument of perigee", strings.TrimSpace(l2[34:42])},
		{"mean anomaly", strings.TrimSpace(l2[43:51])},
		{"mean motion", strings.TrimSpace(l2[52:63])},
	}
	for _, f := range fields {
		if _, err := strconv.ParseFloat(f.raw, 64); err != nil {
			return fmt.Errorf("%w: %s %q", model.ErrParse, f.name, f.raw)
		}
	}
	return nil
}

// ConstellationSatellites counts constellation members above an elevation
// mask at the fix position, propagated with SGP4.
type ConstellationSatellites struct {
	sats []satellite.Satellite

	MaskDegrees float64
	// Min is reported when fewer satellites are visible; the console
	// rejects fixes with zero satellites.
	Min int
	Max int
}

// NewConstellationSatellites initialises SGP4 for every element set.
func NewConstellationSatellites(tles []TLE) (*ConstellationSatellites, error) {
	if len(tles) == 0 {
		return nil, fmt.Errorf("%w: empty constellation", model.ErrInvalidInput)
	}
	c := &ConstellationSatellites{
		MaskDegrees: DefaultElevationMaskDegrees,
		Min:         MinSatellites,
		Max:         MaxSatellites,
	}
	for _, t := range tles {
		if err := validateTLE(t); err != nil {
			return nil, fmt.Errorf("tle %q: %w", t.Name, err)
		}
		c.sats = append(c.sats, satellite.TLEToSat(t.Line1, t.Line2, satellite.GravityWGS72))
	}
	return c, nil
}

// Size returns the number of tracked satellites.
func (c *ConstellationSatellites) Size() int { return len(c.sats) }

// VisibleSatellites propagates every satellite to t and counts those above
// the mask as seen from pos.
func (c *ConstellationSatellites) VisibleSatellites(t time.Time, pos model.GeoPosition, altitudeMeters float64) int {
	observer := GeodeticToECEF(pos, altitudeMeters/1000.0)
	visible := 0
	for _, sat := range c.sats {
		target, ok := satelliteECEF(sat, t)
		if !ok {
			continue
		}
		if ElevationDegrees(observer, target) >= c.MaskDegrees {
			visible++
		}
	}
	if visible < c.Min {
		visible = c.Min
	}
	if c.Max > 0 && visible > c.Max {
		visible = c.Max
	}
	return visible
}

// satelliteECEF returns the satellite position in kilometres. Decayed or
// otherwise failed propagations yield non-finite values and are skipped.
func satelliteECEF(sat satellite.Satellite, t time.Time) (Vec3, bool) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	v := Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Vec3{}, false
		}
	}
	return v, v.Norm() > EarthRadiusKm
}
