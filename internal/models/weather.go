package models

import (
	"errors"
	"fmt"
	"time"
)

// Condition is the coarse weather condition used to pick an icon.
type Condition int

const (
	ConditionUnknown Condition = iota
	ConditionClear
	ConditionMainlyClear
	ConditionPartlyCloudy
	ConditionOvercast
	ConditionFog
	ConditionDrizzle
	ConditionRain
	ConditionShowers
	ConditionSnow
	ConditionThunderstorm
)

func (c Condition) String() string {
	switch c {
	case ConditionClear:
		return "clear"
	case ConditionMainlyClear:
		return "mainly_clear"
	case ConditionPartlyCloudy:
		return "partly_cloudy"
	case ConditionOvercast:
		return "overcast"
	case ConditionFog:
		return "fog"
	case ConditionDrizzle:
		return "drizzle"
	case ConditionRain:
		return "rain"
	case ConditionShowers:
		return "showers"
	case ConditionSnow:
		return "snow"
	case ConditionThunderstorm:
		return "thunderstorm"
	default:
		return "unknown"
	}
}

// ConditionFromWMO maps a WMO weather interpretation code to a Condition.
func ConditionFromWMO(code int) Condition {
	switch {
	case code == 0:
		return ConditionClear
	case code == 1:
		return ConditionMainlyClear
	case code == 2:
		return ConditionPartlyCloudy
	case code == 3:
		return ConditionOvercast
	case code == 45 || code == 48:
		return ConditionFog
	case code >= 51 && code <= 57:
		return ConditionDrizzle
	case code >= 61 && code <= 67:
		return ConditionRain
	case code >= 71 && code <= 77, code == 85, code == 86:
		return ConditionSnow
	case code >= 80 && code <= 82:
		return ConditionShowers
	case code >= 95 && code <= 99:
		return ConditionThunderstorm
	default:
		return ConditionUnknown
	}
}

var wmoText = map[int]string{
	0:  "Clear",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Light rain",
	63: "Moderate rain",
	65: "Heavy rain",
	71: "Light snow",
	73: "Moderate snow",
	75: "Heavy snow",
	77: "Snow grains",
	80: "Light rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Light snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with hail",
	99: "Thunderstorm with heavy hail",
}

// DescribeWMO returns the human readable text for a WMO code.
func DescribeWMO(code int) string {
	if s, ok := wmoText[code]; ok {
		return s
	}
	return "Unknown"
}

// Units names the measurement units the snapshot was fetched in.
type Units struct {
	Temperature string `json:"temperature"`
	WindSpeed   string `json:"windSpeed"`
}

// HourlyForecast is one hour of the short-range forecast. HourOffset counts from the current hour.
type HourlyForecast struct {
	HourOffset               int       `json:"hourOffset"`
	Time                     time.Time `json:"time"`
	Temp                     float64   `json:"temp"`
	PrecipitationProbability float64   `json:"precipitationProbability"` // 0..1
	Condition                Condition `json:"condition"`
	IsDay                    bool      `json:"isDay"`
}

// DailyForecast is one day of the forecast strip. DayOffset 0 is today.
type DailyForecast struct {
	DayOffset int       `json:"dayOffset"`
	Date      time.Time `json:"date"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Condition Condition `json:"condition"`
}

// WeatherSnapshot is the weather data rendered in one frame.
type WeatherSnapshot struct {
	CurrentTemp          float64          `json:"currentTemp"`
	CurrentCondition     Condition        `json:"currentCondition"`
	Description          string           `json:"description"`
	CurrentWindSpeed     float64          `json:"currentWindSpeed"`
	CurrentPrecipitation float64          `json:"currentPrecipitation"` // 0..1
	IsDay                bool             `json:"isDay"`
	Hourly               []HourlyForecast `json:"hourly"`
	Daily                []DailyForecast  `json:"daily"`
	Units                Units            `json:"units"`
}

// MaxDailyForecasts is the number of days in the forecast strip.
const MaxDailyForecasts = 3

var (
	ErrNoHourlyForecast      = errors.New("hourly forecast is empty")
	ErrHourlyOrder           = errors.New("hourly offsets not strictly increasing")
	ErrPrecipitationRange    = errors.New("precipitation probability out of range")
	ErrTooManyDailyForecasts = errors.New("too many daily forecasts")
	ErrCurrentPrecipitation  = errors.New("current precipitation out of range")
)

// Validate checks the snapshot invariants.
func (w WeatherSnapshot) Validate() error {
	if len(w.Hourly) == 0 {
		return ErrNoHourlyForecast
	}
	for i, h := range w.Hourly {
		if i > 0 && h.HourOffset <= w.Hourly[i-1].HourOffset {
			return fmt.Errorf("%w: index %d", ErrHourlyOrder, i)
		}
		if h.PrecipitationProbability < 0 || h.PrecipitationProbability > 1 {
			return fmt.Errorf("%w: hour %d = %v", ErrPrecipitationRange, h.HourOffset, h.PrecipitationProbability)
		}
	}
	if w.CurrentPrecipitation < 0 || w.CurrentPrecipitation > 1 {
		return fmt.Errorf("%w: %v", ErrCurrentPrecipitation, w.CurrentPrecipitation)
	}
	if len(w.Daily) > MaxDailyForecasts {
		return fmt.Errorf("%w: %d", ErrTooManyDailyForecasts, len(w.Daily))
	}
	return nil
}

// PrecipitationQuantized reports whether every hourly precipitation probability is exactly 0 or 1.
// Some providers return the probability as a 0/1 flag instead of a continuous value; the panel
// still renders such data but the strip carries no gradation.
func PrecipitationQuantized(hourly []HourlyForecast) bool {
	if len(hourly) < 2 {
		return false
	}
	for _, h := range hourly {
		if h.PrecipitationProbability != 0 && h.PrecipitationProbability != 1 {
			return false
		}
	}
	return true
}
