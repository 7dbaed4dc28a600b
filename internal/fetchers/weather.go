package fetchers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DailyWeather is one day's observed/forecast weather, the output shape
// of a batched range request (spec.md §4.B).
type DailyWeather struct {
	Date          string  `json:"date"`
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	WeatherCode   int     `json:"weather_code"`
	SunshineHours float64 `json:"sunshine_hours"`
}

type openMeteoResponse struct {
	Daily struct {
		Time              []string  `json:"time"`
		Temperature2mMean []float64 `json:"temperature_2m_mean"`
		PrecipitationSum  []float64 `json:"precipitation_sum"`
		WeatherCode       []int     `json:"weather_code"`
		SunshineDuration  []float64 `json:"sunshine_duration"`
	} `json:"daily"`
}

// WeatherClient fetches historical/forecast daily weather for a
// coordinate, batching a contiguous date range into one upstream call.
type WeatherClient struct {
	*httpClient
	baseURL string
}

func NewWeatherClient(cfg Config, log zerolog.Logger) *WeatherClient {
	return &WeatherClient{
		httpClient: newHTTPClient(cfg, log, "weather"),
		baseURL:    "https://archive-api.open-meteo.com/v1/archive",
	}
}

// FetchRange fetches one batched response covering [start, end] for a
// single (rounded) coordinate, per spec.md §4.B's batching requirement.
func (c *WeatherClient) FetchRange(ctx context.Context, lat, lon float64, start, end string) ([]DailyWeather, error) {
	url := buildURL(c.baseURL, map[string]string{
		"latitude":       fmt.Sprintf("%.4f", lat),
		"longitude":      fmt.Sprintf("%.4f", lon),
		"start_date":     start,
		"end_date":       end,
		"daily":      "temperature_2m_mean,precipitation_sum,weather_code,sunshine_duration",
		"timezone":   "auto",
	})

	var resp openMeteoResponse
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	n := len(resp.Daily.Time)
	out := make([]DailyWeather, 0, n)
	for i := 0; i < n; i++ {
		d := DailyWeather{Date: resp.Daily.Time[i]}
		if i < len(resp.Daily.Temperature2mMean) {
			d.Temperature = resp.Daily.Temperature2mMean[i]
		}
		if i < len(resp.Daily.PrecipitationSum) {
			d.Precipitation = resp.Daily.PrecipitationSum[i]
		}
		if i < len(resp.Daily.WeatherCode) {
			d.WeatherCode = resp.Daily.WeatherCode[i]
		}
		if i < len(resp.Daily.SunshineDuration) {
			d.SunshineHours = resp.Daily.SunshineDuration[i] / 3600.0
		}
		out = append(out, d)
	}
	return out, nil
}

// TTLFor returns the cache TTL for a weather fingerprint dated `date`:
// indefinite for historical dates, short for today (spec.md §3.4).
func TTLFor(date string) time.Duration {
	today := time.Now().UTC().Format("2006-01-02")
	if date >= today {
		return 24 * time.Hour
	}
	return 0 // indefinite
}
