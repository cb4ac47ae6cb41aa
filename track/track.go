// Package track reads waypoint sequences for replay.
package track

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/signalsfoundry/gpsfix/model"
)

var (
	attrPair = regexp.MustCompile(`lat="(.*?)" lon="(.*?)"`)
	// decimal is plain decimal notation with an optional exponent. It
	// excludes the hex, inf and nan forms strconv would accept.
	decimal = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ParseError reports the first malformed waypoint in a track source.
type ParseError struct {
	// Index is the 1-based waypoint (or sentence) number.
	Index int
	// Line is the 1-based line in the source.
	Line     int
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("track: waypoint %d (line %d) %q: %v", e.Index, e.Line, e.Fragment, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches model.ErrParse so callers can classify any track failure.
func (e *ParseError) Is(target error) bool { return target == model.ErrParse }

// Parse extracts every lat="…" lon="…" pair of src in document order.
// Other content is ignored, so GPX and similar XML work unchanged. A
// malformed or out-of-range pair fails the whole parse.
func Parse(src string) ([]model.GeoPosition, error) {
	matches := attrPair.FindAllStringSubmatchIndex(src, -1)
	out := make([]model.GeoPosition, 0, len(matches))
	for i, m := range matches {
		fragment := src[m[0]:m[1]]
		fail := func(err error) error {
			return &ParseError{Index: i + 1, Line: lineOf(src, m[0]), Fragment: fragment, Err: err}
		}

		lat, err := parseDecimal(src[m[2]:m[3]])
		if err != nil {
			return nil, fail(fmt.Errorf("latitude: %w", numErr(err)))
		}
		lon, err := parseDecimal(src[m[4]:m[5]])
		if err != nil {
			return nil, fail(fmt.Errorf("longitude: %w", numErr(err)))
		}
		pos, err := model.NewGeoPosition(lat, lon)
		if err != nil {
			return nil, fail(err)
		}
		out = append(out, pos)
	}
	return out, nil
}

// Load reads a track file. Files ending in .nmea or .log are parsed as NMEA
// logs, everything else as attribute-style XML.
func Load(path string) ([]model.GeoPosition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nmea", ".log":
		return ParseNMEA(string(raw))
	default:
		return Parse(string(raw))
	}
}

func lineOf(src string, offset int) int {
	return strings.Count(src[:offset], "\n") + 1
}

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !decimal.MatchString(s) {
		return 0, &strconv.NumError{Func: "ParseFloat", Num: s, Err: strconv.ErrSyntax}
	}
	return strconv.ParseFloat(s, 64)
}

// numErr strips the strconv wrapper, which repeats the fragment.
func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return fmt.Errorf("%q: %w", ne.Num, ne.Err)
	}
	return err
}
