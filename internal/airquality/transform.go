package airquality

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashishkrishna888/Airlytics/internal/models"
)

// ErrMissingPollution is returned when the pollution payload has no samples.
// It indicates a provider contract violation and is not worth retrying.
var ErrMissingPollution = errors.New("pollution reading has no samples")

// Transform combines a weather and a pollution reading into an AirQuality.
// Only the first pollution sample is used. The result depends on nothing but
// its inputs.
func Transform(weather models.WeatherReading, pollution models.PollutionReading) (models.AirQuality, error) {
	if len(pollution.List) == 0 {
		return models.AirQuality{}, ErrMissingPollution
	}
	sample := pollution.List[0]
	class := ClassifyAQI(sample.Main.AQI)

	return models.AirQuality{
		Location:   fmt.Sprintf("%s, %s", weather.Name, weather.Sys.Country),
		AQI:        DisplayAQI(sample.Main.AQI),
		Level:      class.Level,
		Color:      class.Color,
		Timestamp:  time.Unix(sample.Dt, 0).UTC(),
		Pollutants: pollutants(sample),
		Weather: models.WeatherSummary{
			Temperature: ToCelsius(weather.Main.Temp),
			Humidity:    weather.Main.Humidity,
			WindSpeed:   ToKmh(weather.Wind.Speed),
			Visibility:  ToKm(weather.Visibility),
		},
		Coordinates: weather.Coord,
	}, nil
}

func pollutants(s models.PollutionSample) map[models.PollutantKind]models.PollutantReading {
	values := map[models.PollutantKind]float64{
		models.PM25: s.Components.PM25,
		models.PM10: s.Components.PM10,
		models.O3:   s.Components.O3,
		models.NO2:  s.Components.NO2,
		models.SO2:  s.Components.SO2,
		models.CO:   s.Components.CO,
	}
	out := make(map[models.PollutantKind]models.PollutantReading, len(values))
	for kind, v := range values {
		out[kind] = models.PollutantReading{
			Value: v,
			Unit:  Unit(kind),
			Level: ClassifyPollutant(kind, v),
		}
	}
	return out
}
