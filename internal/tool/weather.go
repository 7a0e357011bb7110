package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"omnibot/internal/domain"
)

const (
	geocodeAPIBase  = "https://geocoding-api.open-meteo.com/v1/search"
	forecastAPIBase = "https://api.open-meteo.com/v1/forecast"
)

// WeatherTool resolves a free-text location to coordinates via geocoding,
// then queries forecast data. Both lookups run over the Open-Meteo API and
// need no credentials.
type WeatherTool struct {
	client      *http.Client
	geocodeBase string
	apiBase     string
}

func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		client:      &http.Client{Timeout: searchTimeout},
		geocodeBase: geocodeAPIBase,
		apiBase:     forecastAPIBase,
	}
}

func (t *WeatherTool) Name() string { return "weather" }
func (t *WeatherTool) Description() string {
	return "Get the current weather and a short forecast for a location. Accepts city names in free text."
}
func (t *WeatherTool) SystemPrompt() string { return "" }

func (t *WeatherTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"location": {Type: "string", Description: "City or place name, e.g. \"Berlin\" or \"San Francisco, CA\""},
		},
		[]string{"location"},
	)
}

type geocodeResult struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResult struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
	Daily struct {
		Time    []string  `json:"time"`
		TempMax []float64 `json:"temperature_2m_max"`
		TempMin []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	location := ArgString(args, "location")
	if location == "" {
		return nil, ErrMissing("location")
	}

	lat, lon, place, err := t.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current_weather=true&daily=temperature_2m_max,temperature_2m_min&forecast_days=3&timezone=auto",
		t.apiBase, lat, lon)
	var fc forecastResult
	if err := t.getJSON(ctx, endpoint, &fc); err != nil {
		return nil, fmt.Errorf("forecast lookup: %w", err)
	}

	days := make([]map[string]any, 0, len(fc.Daily.Time))
	for i := range fc.Daily.Time {
		if i >= len(fc.Daily.TempMax) || i >= len(fc.Daily.TempMin) {
			break
		}
		days = append(days, map[string]any{
			"date": fc.Daily.Time[i],
			"max":  fc.Daily.TempMax[i],
			"min":  fc.Daily.TempMin[i],
		})
	}

	return map[string]any{
		"location":    place,
		"temperature": fc.CurrentWeather.Temperature,
		"wind_speed":  fc.CurrentWeather.WindSpeed,
		"conditions":  weatherCodeText(fc.CurrentWeather.WeatherCode),
		"forecast":    days,
	}, nil
}

func (t *WeatherTool) geocode(ctx context.Context, location string) (lat, lon float64, place string, err error) {
	endpoint := fmt.Sprintf("%s?name=%s&count=1", t.geocodeBase, url.QueryEscape(location))
	var gc geocodeResult
	if err := t.getJSON(ctx, endpoint, &gc); err != nil {
		return 0, 0, "", fmt.Errorf("geocoding lookup: %w", err)
	}
	if len(gc.Results) == 0 {
		return 0, 0, "", fmt.Errorf("no location found for %q", location)
	}
	r := gc.Results[0]
	return r.Latitude, r.Longitude, r.Name + ", " + r.Country, nil
}

func (t *WeatherTool) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// weatherCodeText maps WMO weather codes to short descriptions.
func weatherCodeText(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
