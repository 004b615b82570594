package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// WeatherClient fetches the current conditions and short-range forecast for a location.
type WeatherClient interface {
	FetchWeather(ctx context.Context, loc models.Coordinates) (models.WeatherSnapshot, error)
}

const (
	defaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"
	hourlyForecastLen   = 12
	openMeteoHourLayout = "2006-01-02T15:04"
	openMeteoDayLayout  = "2006-01-02"
)

// OpenMeteoConfig configures an OpenMeteoClient.
type OpenMeteoConfig struct {
	URL               string
	Timezone          string
	TemperatureUnit   string // fahrenheit | celsius
	WindSpeedUnit     string // mph | kmh | ms | kn
	Timeout           time.Duration
	Retry             RetryConfig
	RequestsPerMinute int
}

// OpenMeteoClient reads forecasts from the Open-Meteo API. No API key is needed.
type OpenMeteoClient struct {
	cfg    OpenMeteoConfig
	fetch  *fetcher
	logger *zap.Logger
	now    func() time.Time
}

// NewOpenMeteoClient returns a client for cfg, filling defaults for empty fields.
func NewOpenMeteoClient(cfg OpenMeteoConfig, logger *zap.Logger) *OpenMeteoClient {
	if cfg.URL == "" {
		cfg.URL = defaultOpenMeteoURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "auto"
	}
	if cfg.TemperatureUnit == "" {
		cfg.TemperatureUnit = "fahrenheit"
	}
	if cfg.WindSpeedUnit == "" {
		cfg.WindSpeedUnit = "mph"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = observability.OrNop(logger)
	return &OpenMeteoClient{
		cfg:    cfg,
		fetch:  newFetcher(SourceWeather, cfg.Timeout, cfg.RequestsPerMinute, cfg.Retry, logger),
		logger: logger,
		now:    time.Now,
	}
}

type openMeteoResponse struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	Hourly           struct {
		Time                     []string  `json:"time"`
		Temperature              []float64 `json:"temperature_2m"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		WeatherCode              []int     `json:"weathercode"`
		WindSpeed                []float64 `json:"windspeed_10m"`
		IsDay                    []int     `json:"is_day"`
	} `json:"hourly"`
	Daily struct {
		Time           []string  `json:"time"`
		WeatherCode    []int     `json:"weathercode"`
		TemperatureMax []float64 `json:"temperature_2m_max"`
		TemperatureMin []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// FetchWeather returns a validated snapshot for loc.
func (c *OpenMeteoClient) FetchWeather(ctx context.Context, loc models.Coordinates) (models.WeatherSnapshot, error) {
	body, err := c.fetch.get(ctx, c.buildURL(loc), nil)
	if err != nil {
		return models.WeatherSnapshot{}, newFetchError(SourceWeather, err)
	}

	var apiResp openMeteoResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherSnapshot{}, newFetchError(SourceWeather, fmt.Errorf("%w: parse response: %w", ErrMalformedResponse, err))
	}

	snapshot, err := c.mapResponse(apiResp, c.now())
	if err != nil {
		return models.WeatherSnapshot{}, newFetchError(SourceWeather, fmt.Errorf("%w: %w", ErrMalformedResponse, err))
	}
	if err := snapshot.Validate(); err != nil {
		return models.WeatherSnapshot{}, newFetchError(SourceWeather, fmt.Errorf("%w: %w", ErrMalformedResponse, err))
	}
	if models.PrecipitationQuantized(snapshot.Hourly) {
		c.logger.Warn("hourly precipitation probability is 0/1 only", zap.Int("hours", len(snapshot.Hourly)))
	}
	return snapshot, nil
}

func (c *OpenMeteoClient) buildURL(loc models.Coordinates) string {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	params.Set("hourly", "temperature_2m,precipitation_probability,weathercode,windspeed_10m,is_day")
	params.Set("daily", "weathercode,temperature_2m_max,temperature_2m_min")
	params.Set("timezone", c.cfg.Timezone)
	params.Set("temperature_unit", c.cfg.TemperatureUnit)
	params.Set("windspeed_unit", c.cfg.WindSpeedUnit)
	params.Set("forecast_days", "4")
	return c.cfg.URL + "?" + params.Encode()
}

func (c *OpenMeteoClient) mapResponse(r openMeteoResponse, now time.Time) (models.WeatherSnapshot, error) {
	h := r.Hourly
	n := len(h.Time)
	if n == 0 {
		return models.WeatherSnapshot{}, models.ErrNoHourlyForecast
	}
	if len(h.Temperature) != n || len(h.PrecipitationProbability) != n || len(h.WeatherCode) != n ||
		len(h.WindSpeed) != n || len(h.IsDay) != n {
		return models.WeatherSnapshot{}, fmt.Errorf("hourly arrays have mismatched lengths")
	}
	zone := time.FixedZone("", r.UTCOffsetSeconds)

	times := make([]time.Time, n)
	for i, s := range h.Time {
		t, err := time.ParseInLocation(openMeteoHourLayout, s, zone)
		if err != nil {
			return models.WeatherSnapshot{}, fmt.Errorf("hourly time %q: %w", s, err)
		}
		times[i] = t
	}

	local := now.In(zone)
	currentHour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, zone)
	idx := 0
	found := false
	for i, t := range times {
		if t.Equal(currentHour) {
			idx, found = i, true
			break
		}
	}
	if !found {
		c.logger.Warn("current hour missing from forecast, using first hour",
			zap.Time("current_hour", currentHour))
	}

	snapshot := models.WeatherSnapshot{
		CurrentTemp:          h.Temperature[idx],
		CurrentCondition:     models.ConditionFromWMO(h.WeatherCode[idx]),
		Description:          models.DescribeWMO(h.WeatherCode[idx]),
		CurrentWindSpeed:     h.WindSpeed[idx],
		CurrentPrecipitation: percentToUnit(h.PrecipitationProbability[idx]),
		IsDay:                h.IsDay[idx] == 1,
		Units:                units(c.cfg.TemperatureUnit, c.cfg.WindSpeedUnit),
	}

	end := idx + hourlyForecastLen
	if end > n {
		end = n
	}
	for i := idx; i < end; i++ {
		snapshot.Hourly = append(snapshot.Hourly, models.HourlyForecast{
			HourOffset:               i - idx,
			Time:                     times[i],
			Temp:                     h.Temperature[i],
			PrecipitationProbability: percentToUnit(h.PrecipitationProbability[i]),
			Condition:                models.ConditionFromWMO(h.WeatherCode[i]),
			IsDay:                    h.IsDay[i] == 1,
		})
	}

	d := r.Daily
	days := len(d.Time)
	if len(d.WeatherCode) < days || len(d.TemperatureMax) < days || len(d.TemperatureMin) < days {
		return models.WeatherSnapshot{}, fmt.Errorf("daily arrays have mismatched lengths")
	}
	if days > models.MaxDailyForecasts {
		days = models.MaxDailyForecasts
	}
	for i := 0; i < days; i++ {
		date, err := time.ParseInLocation(openMeteoDayLayout, d.Time[i], zone)
		if err != nil {
			return models.WeatherSnapshot{}, fmt.Errorf("daily time %q: %w", d.Time[i], err)
		}
		snapshot.Daily = append(snapshot.Daily, models.DailyForecast{
			DayOffset: i,
			Date:      date,
			High:      d.TemperatureMax[i],
			Low:       d.TemperatureMin[i],
			Condition: models.ConditionFromWMO(d.WeatherCode[i]),
		})
	}
	return snapshot, nil
}

// percentToUnit converts an API percentage to a 0..1 probability. Values outside 0..100 are
// passed through unclamped so Validate rejects them.
func percentToUnit(p float64) float64 {
	return math.Round(p) / 100
}

func units(temperature, wind string) models.Units {
	u := models.Units{Temperature: "°F", WindSpeed: wind}
	if temperature == "celsius" {
		u.Temperature = "°C"
	}
	switch wind {
	case "kmh":
		u.WindSpeed = "km/h"
	case "ms":
		u.WindSpeed = "m/s"
	case "kn":
		u.WindSpeed = "kn"
	}
	return u
}
