package airquality

import "github.com/ashishkrishna888/Airlytics/internal/models"

// Recommendation is the health guidance shown next to the AQI card.
type Recommendation struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Color   string `json:"color"`
}

// Recommend picks guidance from the display AQI.
func Recommend(displayAQI int) Recommendation {
	switch {
	case displayAQI <= 50:
		return Recommendation{
			Title:   "Excellent Air Quality",
			Message: "Perfect for outdoor activities. Enjoy the fresh air!",
			Color:   "aqi-excellent",
		}
	case displayAQI <= 100:
		return Recommendation{
			Title:   "Moderate Air Quality",
			Message: "Air quality is acceptable. Sensitive individuals should consider limiting prolonged outdoor exertion.",
			Color:   "aqi-moderate",
		}
	default:
		return Recommendation{
			Title:   "Unhealthy Air Quality",
			Message: "Everyone may begin to experience health effects. Limit outdoor activities.",
			Color:   "aqi-poor",
		}
	}
}

// DisplayBand classifies a display AQI on the card's 0-300+ scale.
func DisplayBand(displayAQI int) AQIClass {
	switch {
	case displayAQI <= 50:
		return AQIClass{Level: "Excellent", Color: "aqi-excellent"}
	case displayAQI <= 100:
		return AQIClass{Level: "Good", Color: "aqi-good"}
	case displayAQI <= 150:
		return AQIClass{Level: "Moderate", Color: "aqi-moderate"}
	case displayAQI <= 200:
		return AQIClass{Level: "Poor", Color: "aqi-poor"}
	case displayAQI <= 300:
		return AQIClass{Level: "Very Poor", Color: "aqi-very-poor"}
	default:
		return AQIClass{Level: "Hazardous", Color: "aqi-hazardous"}
	}
}

const displayScaleMax = 300

// GaugePercent is how full the AQI card's gauge is drawn, clamped to 100.
func GaugePercent(displayAQI int) float64 {
	return clampPercent(float64(displayAQI) / displayScaleMax * 100)
}

var pollutantGaugeMax = map[models.PollutantKind]float64{
	models.PM25: 50,
	models.PM10: 100,
	models.O3:   150,
	models.NO2:  100,
	models.SO2:  50,
	models.CO:   10,
}

// PollutantGauge returns the gauge fill for a pollutant reading and the
// scale maximum it was drawn against.
func PollutantGauge(kind models.PollutantKind, value float64) (percent, scale float64) {
	scale, ok := pollutantGaugeMax[kind]
	if !ok {
		scale = 100
	}
	return clampPercent(value / scale * 100), scale
}

func clampPercent(p float64) float64 {
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
