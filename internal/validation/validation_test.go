package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateQuery_EmptyAndWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tab", "\t"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateQuery(tc.input, 100)
			if !errors.Is(err, ErrQueryEmpty) {
				t.Errorf("error = %v, want ErrQueryEmpty", err)
			}
		})
	}
}

func TestValidateQuery_TooShort(t *testing.T) {
	for _, in := range []string{"x", "ab", " ab "} {
		_, err := ValidateQuery(in, 100)
		if !errors.Is(err, ErrQueryTooShort) {
			t.Errorf("ValidateQuery(%q) error = %v, want ErrQueryTooShort", in, err)
		}
	}
}

func TestValidateQuery_TooLong(t *testing.T) {
	_, err := ValidateQuery(strings.Repeat("a", 101), 100)
	if !errors.Is(err, ErrQueryTooLong) {
		t.Errorf("error = %v, want ErrQueryTooLong", err)
	}
}

func TestValidateQuery_InvalidChars(t *testing.T) {
	for _, in := range []string{"Paris<script>", "Lon;don", "Tokyo@"} {
		_, err := ValidateQuery(in, 100)
		if !errors.Is(err, ErrQueryInvalidChars) {
			t.Errorf("ValidateQuery(%q) error = %v, want ErrQueryInvalidChars", in, err)
		}
	}
}

func TestValidateQuery_Valid(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"  San Francisco ", "San Francisco"},
		{"St. Louis", "St. Louis"},
		{"Xi'an", "Xi'an"},
		{"São Paulo, BR", "São Paulo, BR"},
		{"Winston-Salem", "Winston-Salem"},
		{"東京都", "東京都"},
	}
	for _, tt := range tests {
		got, err := ValidateQuery(tt.input, 100)
		if err != nil {
			t.Errorf("ValidateQuery(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateQuery(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSearchEnabled(t *testing.T) {
	tests := map[string]bool{
		"":              false,
		"ab":            false,
		"  ab ":         false,
		"   ":           false,
		"abc":           true,
		"xyzzynotacity": true,
		"São":           true,
		"東京":            false,
		" 東京都 ":         true,
	}
	for in, want := range tests {
		if got := SearchEnabled(in); got != want {
			t.Errorf("SearchEnabled(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCoordinatesEnabled(t *testing.T) {
	if !CoordinatesEnabled(37.7749, -122.4194) {
		t.Error("numeric coordinates should be enabled")
	}
	if CoordinatesEnabled(math.NaN(), 0) || CoordinatesEnabled(0, math.NaN()) {
		t.Error("NaN coordinates should not be enabled")
	}
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon string
		wantErr  error
	}{
		{"valid", "37.7749", "-122.4194", nil},
		{"missing lat", "", "1", ErrCoordinatesMissing},
		{"garbage", "abc", "1", ErrCoordinatesMissing},
		{"nan", "NaN", "1", ErrCoordinatesMissing},
		{"inf", "1", "+Inf", ErrCoordinatesMissing},
		{"lat range", "91", "0", ErrCoordinatesOutOfRange},
		{"lon range", "0", "-180.5", ErrCoordinatesOutOfRange},
		{"edges", "-90", "180", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseCoordinates(tt.lat, tt.lon)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseCoordinates(%q, %q) error = %v, want %v", tt.lat, tt.lon, err, tt.wantErr)
			}
		})
	}
}
