// Package validation checks operator-supplied identifiers and coordinates before they reach
// upstream requests.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrStopIDEmpty is returned when a stop id is empty or whitespace-only after trim.
var ErrStopIDEmpty = errors.New("stop id is required")

// ErrStopIDTooLong is returned when a stop id exceeds MaxStopIDLen.
var ErrStopIDTooLong = errors.New("stop id too long")

// ErrStopIDInvalidChars is returned when a stop id contains anything but ASCII letters, digits,
// hyphen or underscore.
var ErrStopIDInvalidChars = errors.New("stop id contains invalid characters")

// ErrCoordinatesOutOfRange is returned for a latitude outside [-90, 90], a longitude outside
// [-180, 180], or a non-finite value.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// MaxStopIDLen bounds GTFS stop ids. Real feeds use short ids such as "F20N".
const MaxStopIDLen = 16

// ValidateStopID trims the input and checks length and characters. Returns the trimmed id.
func ValidateStopID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrStopIDEmpty
	}
	if len(s) > MaxStopIDLen {
		return "", ErrStopIDTooLong
	}
	for i := 0; i < len(s); i++ {
		if !isStopIDByte(s[i]) {
			return "", ErrStopIDInvalidChars
		}
	}
	return s, nil
}

func isStopIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

// ValidateCoordinates checks a WGS84 latitude/longitude pair.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return ErrCoordinatesOutOfRange
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrCoordinatesOutOfRange, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrCoordinatesOutOfRange, lon)
	}
	return nil
}
