package track

import (
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/signalsfoundry/gpsfix/model"
)

// ParseNMEA extracts positions from GGA and RMC sentences of an NMEA log.
// Sentences without a fix (GGA quality 0, RMC status V) are skipped, as are
// lines that carry no sentence at all. Other sentence types are ignored.
func ParseNMEA(src string) ([]model.GeoPosition, error) {
	var (
		out   []model.GeoPosition
		index int
	)
	for n, line := range strings.Split(src, "\n") {
		start := strings.IndexByte(line, '$')
		if start < 0 {
			continue
		}
		raw := strings.TrimSpace(line[start:])
		index++
		fail := func(err error) error {
			return &ParseError{Index: index, Line: n + 1, Fragment: raw, Err: err}
		}

		s, err := nmea.Parse(raw)
		if err != nil {
			return nil, fail(err)
		}

		var lat, lon float64
		switch m := s.(type) {
		case nmea.GGA:
			if m.FixQuality == nmea.Invalid {
				continue
			}
			lat, lon = m.Latitude, m.Longitude
		case nmea.RMC:
			if m.Validity != nmea.ValidRMC {
				continue
			}
			lat, lon = m.Latitude, m.Longitude
		default:
			continue
		}

		pos, err := model.NewGeoPosition(lat, lon)
		if err != nil {
			return nil, fail(fmt.Errorf("%s: %w", s.DataType(), err))
		}
		out = append(out, pos)
	}
	return out, nil
}
