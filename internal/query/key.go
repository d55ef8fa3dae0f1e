package query

import (
	"strconv"
	"strings"
)

// Root is the top-level segment shared by every dashboard query key.
const Root = "weather"

// Key kinds, the second segment of a key. Used as metric labels.
const (
	KindAQI      = "aqi"
	KindLocation = "location"
	KindReverse  = "reverse"
)

// AQIKey identifies the AQI view model for a coordinate pair.
func AQIKey(lat, lon float64) string {
	return join(KindAQI, formatCoord(lat), formatCoord(lon))
}

// LocationKey identifies a location search. The query is trimmed and
// lowercased so equivalent searches share an entry.
func LocationKey(q string) string {
	return join(KindLocation, strings.ToLower(strings.TrimSpace(q)))
}

// ReverseKey identifies a reverse geocode lookup.
func ReverseKey(lat, lon float64) string {
	return join(KindReverse, formatCoord(lat), formatCoord(lon))
}

func join(parts ...string) string {
	return Root + "/" + strings.Join(parts, "/")
}

// formatCoord uses the shortest representation that round-trips, so equal
// floats always produce equal keys.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// kindOf returns the kind segment of key, or "other" for foreign keys.
func kindOf(key string) string {
	rest, ok := strings.CutPrefix(key, Root+"/")
	if !ok {
		return "other"
	}
	kind, _, _ := strings.Cut(rest, "/")
	switch kind {
	case KindAQI, KindLocation, KindReverse:
		return kind
	}
	return "other"
}
