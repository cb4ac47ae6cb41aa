package model

import "time"

// FixSource identifies which producer generated a fix.
type FixSource string

const (
	SourceReset FixSource = "reset"
	SourceWalk  FixSource = "walk"
	SourceTrack FixSource = "track"
)

// Fix is a single reported GPS position together with the diagnostics
// computed when it was produced.
type Fix struct {
	Position       GeoPosition `json:"position"`
	AltitudeMeters float64     `json:"altitude_m"`
	Satellites     int         `json:"satellites"`

	Label          string    `json:"label"`
	HeadingDegrees float64   `json:"heading_deg"`
	DistanceMeters float64   `json:"distance_m"`
	Source         FixSource `json:"source"`
	Sequence       int       `json:"sequence"`
	Time           time.Time `json:"time"`
}
