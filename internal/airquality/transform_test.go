package airquality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashishkrishna888/Airlytics/internal/models"
)

func sanFrancisco(aqi int, pm25 float64) (models.WeatherReading, models.PollutionReading) {
	var w models.WeatherReading
	w.Name = "San Francisco"
	w.Sys.Country = "US"
	w.Coord = models.Coordinates{Lat: 37.7749, Lon: -122.4194}
	w.Main.Temp = 290.15
	w.Main.Humidity = 65
	w.Wind.Speed = 3
	w.Visibility = 9000

	var s models.PollutionSample
	s.Main.AQI = aqi
	s.Components.PM25 = pm25
	s.Components.PM10 = 15
	s.Components.O3 = 60
	s.Components.NO2 = 10
	s.Components.SO2 = 2
	s.Components.CO = 0.3
	s.Dt = 1700000000

	return w, models.PollutionReading{Coord: w.Coord, List: []models.PollutionSample{s}}
}

func TestTransform_SanFrancisco(t *testing.T) {
	w, p := sanFrancisco(2, 8)

	got, err := Transform(w, p)
	require.NoError(t, err)

	assert.Equal(t, "San Francisco, US", got.Location)
	assert.Equal(t, 40, got.AQI)
	assert.Equal(t, "Good", got.Level)
	assert.Equal(t, "aqi-good", got.Color)
	assert.Equal(t, models.LevelGood, got.Pollutants[models.PM25].Level)
	assert.Equal(t, models.WeatherSummary{Temperature: 17, Humidity: 65, WindSpeed: 11, Visibility: 9}, got.Weather)
	assert.Equal(t, models.Coordinates{Lat: 37.7749, Lon: -122.4194}, got.Coordinates)
	assert.True(t, got.Timestamp.Equal(time.Unix(1700000000, 0)))
	assert.Len(t, got.Pollutants, len(models.PollutantKinds))
	assert.Equal(t, "mg/m³", got.Pollutants[models.CO].Unit)
	assert.Equal(t, "µg/m³", got.Pollutants[models.O3].Unit)
}

func TestTransform_ModerateRoundTrip(t *testing.T) {
	w, p := sanFrancisco(3, 20)

	got, err := Transform(w, p)
	require.NoError(t, err)
	assert.Equal(t, "Moderate", got.Level)
	assert.Equal(t, 60, got.AQI)
}

func TestTransform_UsesFirstSample(t *testing.T) {
	w, p := sanFrancisco(1, 1)
	var later models.PollutionSample
	later.Main.AQI = 5
	later.Dt = 1800000000
	p.List = append(p.List, later)

	got, err := Transform(w, p)
	require.NoError(t, err)
	assert.Equal(t, 20, got.AQI)
	assert.Equal(t, int64(1700000000), got.Timestamp.Unix())
}

func TestTransform_Deterministic(t *testing.T) {
	w, p := sanFrancisco(4, 60)

	a, err := Transform(w, p)
	require.NoError(t, err)
	b, err := Transform(w, p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransform_MissingPollution(t *testing.T) {
	w, _ := sanFrancisco(1, 1)

	_, err := Transform(w, models.PollutionReading{})
	assert.ErrorIs(t, err, ErrMissingPollution)
}
