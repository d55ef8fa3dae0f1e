package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// MinQueryLen is the shortest search query that is sent upstream. Shorter
// queries leave the search idle.
const MinQueryLen = 3

// ErrQueryEmpty is returned when the query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("query is required")

// ErrQueryTooShort is returned when the query has fewer than MinQueryLen runes.
var ErrQueryTooShort = errors.New("query too short")

// ErrQueryTooLong is returned when the query length exceeds the maximum.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when the query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("query contains invalid characters")

// ErrCoordinatesMissing is returned when lat or lon is absent or not a number.
var ErrCoordinatesMissing = errors.New("lat and lon are required numbers")

// ErrCoordinatesOutOfRange is returned for |lat| > 90 or |lon| > 180.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ValidateQuery trims the input, enforces MinQueryLen and maxLen (in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, period
// and apostrophe. Returns the trimmed string or an error suitable for
// 400 INVALID_QUERY responses.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if n < MinQueryLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

// SearchEnabled reports whether a query is long enough to be looked up.
// Length is counted in runes after trimming, so padded or multi-byte input
// is measured by what the user typed.
func SearchEnabled(query string) bool {
	return len([]rune(strings.TrimSpace(query))) >= MinQueryLen
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// CoordinatesEnabled reports whether a coordinate lookup may be issued:
// both values must be numbers.
func CoordinatesEnabled(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon)
}

// ValidateCoordinates rejects NaN, infinities and out-of-range values.
func ValidateCoordinates(lat, lon float64) error {
	if !CoordinatesEnabled(lat, lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return ErrCoordinatesMissing
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrCoordinatesOutOfRange
	}
	return nil
}

// ParseCoordinates parses lat/lon query parameters and validates them.
func ParseCoordinates(latStr, lonStr string) (lat, lon float64, err error) {
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, ErrCoordinatesMissing
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, ErrCoordinatesMissing
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}
