// Package airquality converts OpenWeatherMap readings into the dashboard's
// air-quality view model. Everything here is pure.
package airquality

import (
	"math"

	"github.com/ashishkrishna888/Airlytics/internal/models"
)

const kelvinOffset = 273.15

// ToCelsius converts Kelvin to whole degrees Celsius.
func ToCelsius(kelvin float64) int {
	return round(kelvin - kelvinOffset)
}

// ToKmh converts m/s to whole km/h.
func ToKmh(metersPerSecond float64) int {
	return round(metersPerSecond * 3.6)
}

// ToKm converts meters to whole kilometers.
func ToKm(meters float64) int {
	return round(meters / 1000)
}

// round matches the dashboard's rounding: halves go up, including negatives
// (-0.5 rounds to 0).
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}

// AQIClass is the label and color swatch for a provider AQI value.
type AQIClass struct {
	Level string `json:"level"`
	Color string `json:"color"`
}

var aqiClasses = map[int]AQIClass{
	1: {Level: "Excellent", Color: "aqi-excellent"},
	2: {Level: "Good", Color: "aqi-good"},
	3: {Level: "Moderate", Color: "aqi-moderate"},
	4: {Level: "Poor", Color: "aqi-poor"},
	5: {Level: "Very Poor", Color: "aqi-very-poor"},
}

// UnknownAQI is returned for provider values outside 1-5.
var UnknownAQI = AQIClass{Level: "Unknown", Color: "aqi-good"}

// ClassifyAQI maps the provider's 1-5 scale to a label and color.
func ClassifyAQI(raw int) AQIClass {
	if c, ok := aqiClasses[raw]; ok {
		return c
	}
	return UnknownAQI
}

// DisplayAQI remaps the provider's 1-5 scale onto the dashboard's display
// number. The linear x20 remap is an approximation and tops out at 100.
func DisplayAQI(raw int) int {
	return raw * 20
}

// thresholds are upper bounds for excellent, good, moderate, poor and
// very-poor. Anything above the last is hazardous.
type thresholds [5]float64

var pollutantThresholds = map[models.PollutantKind]thresholds{
	models.PM25: {0, 12, 35, 55, 150},
	models.PM10: {0, 20, 50, 100, 200},
	models.O3:   {0, 50, 100, 168, 208},
	models.NO2:  {0, 40, 100, 200, 400},
	models.SO2:  {0, 20, 80, 250, 350},
	models.CO:   {0, 2, 10, 17, 34},
}

var levelOrder = []models.Level{
	models.LevelExcellent,
	models.LevelGood,
	models.LevelModerate,
	models.LevelPoor,
	models.LevelVeryPoor,
	models.LevelHazardous,
}

// ClassifyPollutant returns the first bucket whose upper bound is >= value.
// Unknown kinds classify as good.
func ClassifyPollutant(kind models.PollutantKind, value float64) models.Level {
	t, ok := pollutantThresholds[kind]
	if !ok {
		return models.LevelGood
	}
	for i, bound := range t {
		if value <= bound {
			return levelOrder[i]
		}
	}
	return models.LevelHazardous
}

// SeverityRank orders levels from 0 (excellent) to 5 (hazardous). Unknown
// levels rank -1.
func SeverityRank(l models.Level) int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return -1
}

// Unit returns the concentration unit shown for a pollutant kind.
func Unit(kind models.PollutantKind) string {
	if kind == models.CO {
		return "mg/m³"
	}
	return "µg/m³"
}
