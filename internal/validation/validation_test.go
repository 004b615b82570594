package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// TestValidateStopID verifies trimming, length bounds and the allowed character set.
func TestValidateStopID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"mta stop", "F20N", "F20N", nil},
		{"trimmed", "  A32S\t", "A32S", nil},
		{"hyphen and underscore", "stop_1-a", "stop_1-a", nil},
		{"max length", strings.Repeat("a", MaxStopIDLen), strings.Repeat("a", MaxStopIDLen), nil},
		{"empty", "", "", ErrStopIDEmpty},
		{"whitespace", "   ", "", ErrStopIDEmpty},
		{"too long", strings.Repeat("a", MaxStopIDLen+1), "", ErrStopIDTooLong},
		{"inner space", "F20 N", "", ErrStopIDInvalidChars},
		{"slash", "nyct/F20N", "", ErrStopIDInvalidChars},
		{"non-ascii letter", "Bergén", "", ErrStopIDInvalidChars},
		{"query injection", "F20N&x=1", "", ErrStopIDInvalidChars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateStopID(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateStopID(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateStopID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidateCoordinates verifies the inclusive WGS84 bounds and rejection of non-finite values.
func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"brooklyn", 40.6861, -73.9907, false},
		{"origin", 0, 0, false},
		{"north pole", 90, 180, false},
		{"south-west corner", -90, -180, false},
		{"latitude high", 90.0001, 0, true},
		{"latitude low", -91, 0, true},
		{"longitude high", 0, 180.5, true},
		{"longitude low", 0, -181, true},
		{"nan", math.NaN(), 0, true},
		{"inf", 0, math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinates(tt.lat, tt.lon)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCoordinates(%v, %v) error = %v, wantErr %v", tt.lat, tt.lon, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrCoordinatesOutOfRange) {
				t.Errorf("error = %v, want ErrCoordinatesOutOfRange", err)
			}
		})
	}
}
