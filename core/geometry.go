package core

import (
	"math"

	"github.com/signalsfoundry/gpsfix/model"
)

// EarthRadiusKm is the spherical Earth radius shared with the model package
// (kilometres).
const EarthRadiusKm = model.EarthRadiusKm

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// GeodeticToECEF places a position altitudeKm above the spherical Earth.
func GeodeticToECEF(pos model.GeoPosition, altitudeKm float64) Vec3 {
	lat := pos.Latitude * math.Pi / 180
	lon := pos.Longitude * math.Pi / 180
	r := EarthRadiusKm + altitudeKm
	return Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	// Vector from observer to target.
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	// Local zenith at observer is its normalised position vector.
	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := Vec3{
		X: observer.X / r,
		Y: observer.Y / r,
		Z: observer.Z / r,
	}

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi

	// Elevation is measured from local horizon (90° − zenith angle).
	return 90.0 - gammaDeg
}
