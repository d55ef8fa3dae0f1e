package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// WeatherReading is the OpenWeatherMap /data/2.5/weather payload.
// Temperature is Kelvin, wind speed m/s, visibility meters.
type WeatherReading struct {
	Coord   Coordinates `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Visibility float64 `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
		Gust  float64 `json:"gust,omitempty"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int          `json:"timezone"`
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Dt       int64        `json:"dt"`
	Cod      ProviderCode `json:"cod"`
	Message  string       `json:"message,omitempty"`
}

// PollutionReading is the OpenWeatherMap /data/2.5/air_pollution payload.
type PollutionReading struct {
	Coord Coordinates       `json:"coord"`
	List  []PollutionSample `json:"list"`
}

// PollutionSample is one entry of PollutionReading.List. AQI is on the
// provider's 1-5 scale; components are µg/m³.
type PollutionSample struct {
	Main struct {
		AQI int `json:"aqi"`
	} `json:"main"`
	Components struct {
		CO   float64 `json:"co"`
		NO   float64 `json:"no"`
		NO2  float64 `json:"no2"`
		O3   float64 `json:"o3"`
		SO2  float64 `json:"so2"`
		PM25 float64 `json:"pm2_5"`
		PM10 float64 `json:"pm10"`
		NH3  float64 `json:"nh3"`
	} `json:"components"`
	Dt int64 `json:"dt"`
}

// ProviderCode is the "cod" field. The provider sends it as a number on
// success and as a string on some errors ("404").
type ProviderCode int

func (c *ProviderCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		var f float64
		if jerr := json.Unmarshal([]byte(s), &f); jerr != nil {
			return err
		}
		n = int(f)
	}
	*c = ProviderCode(n)
	return nil
}
