package model

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by every spherical formula in
// this package. Test vectors are computed against this value.
const EarthRadiusKm = 6371.0

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// GeoPosition is an immutable latitude/longitude pair in degrees.
type GeoPosition struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// NewGeoPosition validates lat/lon and returns the position.
func NewGeoPosition(lat, lon float64) (GeoPosition, error) {
	p := GeoPosition{Latitude: lat, Longitude: lon}
	if err := p.Validate(); err != nil {
		return GeoPosition{}, err
	}
	return p, nil
}

// Validate checks latitude is within [-90,90] and longitude within [-180,180].
func (p GeoPosition) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidInput, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidInput, p.Longitude)
	}
	return nil
}

// DistanceTo returns the great-circle distance to other in metres, using the
// haversine formula on EarthRadiusKm.
func (p GeoPosition) DistanceTo(other GeoPosition) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := other.Validate(); err != nil {
		return 0, err
	}
	lat1 := p.Latitude * degToRad
	lat2 := other.Latitude * degToRad
	dLat := (other.Latitude - p.Latitude) * degToRad
	dLon := (other.Longitude - p.Longitude) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c * 1000, nil
}

// HeadingTo returns the initial bearing from p to other in degrees, [0,360).
// Coincident positions yield 0.
func (p GeoPosition) HeadingTo(other GeoPosition) float64 {
	lat1 := p.Latitude * degToRad
	lat2 := other.Latitude * degToRad
	dLon := (other.Longitude - p.Longitude) * degToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(math.Atan2(y, x) * radToDeg)
}

// Endpoint returns the position reached by travelling distanceKm along the
// initial bearing headingDegrees on a sphere.
func (p GeoPosition) Endpoint(headingDegrees, distanceKm float64) GeoPosition {
	lat1 := p.Latitude * degToRad
	lon1 := p.Longitude * degToRad
	brg := headingDegrees * degToRad
	delta := distanceKm / EarthRadiusKm

	sinLat2 := math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(brg)
	lat2 := math.Asin(clamp(sinLat2, -1, 1))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*sinLat2,
	)

	return GeoPosition{
		Latitude:  lat2 * radToDeg,
		Longitude: normalizeLongitude(lon2 * radToDeg),
	}
}

func (p GeoPosition) String() string {
	return fmt.Sprintf("(%.7f, %.7f)", p.Latitude, p.Longitude)
}

// NormalizeHeading maps any angle in degrees into [0,360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	// -1e-15 mod 360 + 360 rounds to exactly 360.
	if h >= 360 {
		h = 0
	}
	return h
}

func normalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
