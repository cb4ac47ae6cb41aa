// Package nmea renders acknowledged fixes as NMEA 0183 sentences for
// devices that listen on a serial line.
package nmea

import (
	"fmt"
	"math"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"

	"github.com/signalsfoundry/gpsfix/model"
)

// Talker prefixes every sentence; GP is plain GPS.
const Talker = "GP"

// FormatGGA renders a fix as a GGA sentence with fix quality 1 (GPS).
func FormatGGA(fix model.Fix) string {
	lat, ns := coord(fix.Position.Latitude, true)
	lon, ew := coord(fix.Position.Longitude, false)
	fields := []string{
		Talker + "GGA",
		fix.Time.UTC().Format("150405.00"),
		lat, ns,
		lon, ew,
		"1",
		fmt.Sprintf("%02d", fix.Satellites),
		"1.0",
		fmt.Sprintf("%.1f", fix.AltitudeMeters), "M",
		"0.0", "M",
		"", "",
	}
	return sentence(fields)
}

// FormatRMC renders a fix as an active RMC sentence. Speed is derived from
// nothing and reported as zero; course is the fix heading.
func FormatRMC(fix model.Fix) string {
	lat, ns := coord(fix.Position.Latitude, true)
	lon, ew := coord(fix.Position.Longitude, false)
	t := fix.Time.UTC()
	fields := []string{
		Talker + "RMC",
		t.Format("150405.00"),
		gonmea.ValidRMC,
		lat, ns,
		lon, ew,
		"0.0",
		fmt.Sprintf("%.1f", model.NormalizeHeading(fix.HeadingDegrees)),
		t.Format("020106"),
		"", "",
	}
	return sentence(fields)
}

func sentence(fields []string) string {
	body := strings.Join(fields, ",")
	return "$" + body + "*" + gonmea.Checksum(body)
}

// coord converts decimal degrees to the ddmm.mmmm (dddmm.mmmm for
// longitude) form and its hemisphere letter.
func coord(dec float64, isLat bool) (string, string) {
	dir := "N"
	if !isLat {
		dir = "E"
	}
	if dec < 0 {
		dec = -dec
		if isLat {
			dir = "S"
		} else {
			dir = "W"
		}
	}
	deg := math.Floor(dec)
	min := math.Round((dec-deg)*60*10000) / 10000
	if min >= 60 {
		deg++
		min -= 60
	}
	if isLat {
		return fmt.Sprintf("%02d%07.4f", int(deg), min), dir
	}
	return fmt.Sprintf("%03d%07.4f", int(deg), min), dir
}
