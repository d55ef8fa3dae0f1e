package models

import "time"

// Coordinates is a resolved geographic position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type PollutantKind string

const (
	PM25 PollutantKind = "pm25"
	PM10 PollutantKind = "pm10"
	O3   PollutantKind = "o3"
	NO2  PollutantKind = "no2"
	SO2  PollutantKind = "so2"
	CO   PollutantKind = "co"
)

// PollutantKinds lists the kinds carried by every AirQuality, in display order.
var PollutantKinds = []PollutantKind{PM25, PM10, O3, NO2, SO2, CO}

// Level is a pollutant severity bucket.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelModerate  Level = "moderate"
	LevelPoor      Level = "poor"
	LevelVeryPoor  Level = "very-poor"
	LevelHazardous Level = "hazardous"
)

type PollutantReading struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Level Level   `json:"level"`
}

type WeatherSummary struct {
	Temperature int `json:"temperature"` // °C
	Humidity    int `json:"humidity"`    // %
	WindSpeed   int `json:"windSpeed"`   // km/h
	Visibility  int `json:"visibility"`  // km
}

// AirQuality is the normalized view model built from one weather and one
// pollution reading. It is replaced wholesale on every fetch.
type AirQuality struct {
	Location    string                             `json:"location"`
	AQI         int                                `json:"aqi"`
	Level       string                             `json:"level"`
	Color       string                             `json:"color"`
	Timestamp   time.Time                          `json:"timestamp"`
	Pollutants  map[PollutantKind]PollutantReading `json:"pollutants"`
	Weather     WeatherSummary                     `json:"weather"`
	Coordinates Coordinates                        `json:"coordinates"`
}

// LocationCandidate is a geocoding or reverse-geocoding match.
type LocationCandidate struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
}
