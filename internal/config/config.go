package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // the Pi image may ship without zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/transit-panel/internal/validation"
)

// Mode selects the render target.
const (
	ModeHardware = "hardware"
	ModeDebug    = "debug"
)

// Config holds panel configuration loaded from YAML and env.
type Config struct {
	Mode string

	ServerEnabled bool
	ServerPort    string

	TransitPollInterval    time.Duration
	WeatherPollInterval    time.Duration
	MaxConsecutiveFailures int
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	FetchTimeout           time.Duration
	CommitTimeout          time.Duration
	FullRefreshInterval    time.Duration
	MaxSleep               time.Duration

	TransitFeeds             []string
	TransitAPIKey            string
	Stops                    []string
	StopNames                map[string]string
	MinMinutes               int
	MaxMinutes               int
	MaxArrivals              int
	TransitRetryAttempts     int
	TransitRequestsPerMinute int

	WeatherURL               string
	Latitude                 float64
	Longitude                float64
	Timezone                 string
	Location                 *time.Location
	TemperatureUnit          string
	WindSpeedUnit            string
	WeatherRetryAttempts     int
	WeatherRequestsPerMinute int

	DisplayWidth  int
	DisplayHeight int
	GrayLevels    int
	Rotate        int
	Panel         string
	VCOM          float64
	SPIHz         int64
	PartialMaxBox int

	DebugOutputPath string

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Mode string `yaml:"mode"`

	Scheduler struct {
		TransitPollInterval    string `yaml:"transit_poll_interval"`
		WeatherPollInterval    string `yaml:"weather_poll_interval"`
		MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
		BackoffBase            string `yaml:"backoff_base"`
		BackoffMax             string `yaml:"backoff_max"`
		FetchTimeout           string `yaml:"fetch_timeout"`
		CommitTimeout          string `yaml:"commit_timeout"`
		FullRefreshInterval    string `yaml:"full_refresh_interval"`
		MaxSleep               string `yaml:"max_sleep"`
	} `yaml:"scheduler"`

	Transit struct {
		Feeds             []string          `yaml:"feeds"`
		Stops             []string          `yaml:"stops"`
		StopNames         map[string]string `yaml:"stop_names"`
		MinMinutes        *int              `yaml:"min_minutes"`
		MaxMinutes        *int              `yaml:"max_minutes"`
		MaxArrivals       int               `yaml:"max_arrivals"`
		RetryAttempts     int               `yaml:"retry_attempts"`
		RequestsPerMinute int               `yaml:"requests_per_minute"`
	} `yaml:"transit"`

	Weather struct {
		URL               string   `yaml:"url"`
		Latitude          *float64 `yaml:"latitude"`
		Longitude         *float64 `yaml:"longitude"`
		Timezone          string   `yaml:"timezone"`
		TemperatureUnit   string   `yaml:"temperature_unit"`
		WindSpeedUnit     string   `yaml:"wind_speed_unit"`
		RetryAttempts     int      `yaml:"retry_attempts"`
		RequestsPerMinute int      `yaml:"requests_per_minute"`
	} `yaml:"weather"`

	Display struct {
		Width         int     `yaml:"width"`
		Height        int     `yaml:"height"`
		GrayLevels    int     `yaml:"gray_levels"`
		Rotate        int     `yaml:"rotate"`
		Panel         string  `yaml:"panel"`
		VCOM          float64 `yaml:"vcom"`
		SPIHz         int64   `yaml:"spi_hz"`
		PartialMaxBox int     `yaml:"partial_max_box"`
	} `yaml:"display"`

	Debug struct {
		OutputPath string `yaml:"output_path"`
	} `yaml:"debug"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Server struct {
		Enabled *bool  `yaml:"enabled"`
		Port    string `yaml:"port"`
	} `yaml:"server"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	TransitAPIKey string `yaml:"transit_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and the optional
// config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"), filepath.Join(cwd, "config", "secrets.yaml"))
}

// LoadFile reads configPath and, if present, secretsPath, applies env overrides and validates.
func LoadFile(configPath, secretsPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.Mode = envOr("PANEL_MODE", fc.Mode)
	if cfg.Mode == "" {
		cfg.Mode = ModeDebug
	}

	cfg.ServerEnabled = true
	if fc.Server.Enabled != nil {
		cfg.ServerEnabled = *fc.Server.Enabled
	}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	sc := fc.Scheduler
	cfg.TransitPollInterval = parseDuration(sc.TransitPollInterval, 30*time.Second)
	cfg.WeatherPollInterval = parseDuration(sc.WeatherPollInterval, 5*time.Minute)
	cfg.MaxConsecutiveFailures = sc.MaxConsecutiveFailures
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	cfg.BackoffBase = parseDuration(sc.BackoffBase, 5*time.Second)
	cfg.BackoffMax = parseDuration(sc.BackoffMax, 2*time.Minute)
	cfg.FetchTimeout = parseDuration(sc.FetchTimeout, 10*time.Second)
	cfg.CommitTimeout = parseDuration(sc.CommitTimeout, 20*time.Second)
	cfg.FullRefreshInterval = parseDurationOrZero(sc.FullRefreshInterval, time.Hour)
	cfg.MaxSleep = parseDuration(sc.MaxSleep, time.Minute)

	tc := fc.Transit
	cfg.TransitFeeds = tc.Feeds
	cfg.StopNames = tc.StopNames
	for _, raw := range tc.Stops {
		id, err := validation.ValidateStopID(raw)
		if err != nil {
			return nil, fmt.Errorf("transit.stops %q: %w", raw, err)
		}
		cfg.Stops = append(cfg.Stops, id)
	}
	cfg.MinMinutes = 1
	if tc.MinMinutes != nil {
		cfg.MinMinutes = *tc.MinMinutes
	}
	cfg.MaxMinutes = 40
	if tc.MaxMinutes != nil {
		cfg.MaxMinutes = *tc.MaxMinutes
	}
	cfg.MaxArrivals = tc.MaxArrivals
	if cfg.MaxArrivals <= 0 {
		cfg.MaxArrivals = 6
	}
	cfg.TransitRetryAttempts = tc.RetryAttempts
	cfg.TransitRequestsPerMinute = tc.RequestsPerMinute

	cfg.TransitAPIKey = os.Getenv("TRANSIT_API_KEY")
	if cfg.TransitAPIKey == "" && secretsPath != "" {
		key, err := readSecrets(secretsPath)
		if err != nil {
			return nil, err
		}
		cfg.TransitAPIKey = key
	}

	wc := fc.Weather
	if wc.Latitude == nil || wc.Longitude == nil {
		return nil, fmt.Errorf("weather.latitude and weather.longitude are required")
	}
	cfg.Latitude, cfg.Longitude = *wc.Latitude, *wc.Longitude
	cfg.WeatherURL = wc.URL
	cfg.Timezone = strings.TrimSpace(wc.Timezone)
	cfg.TemperatureUnit = wc.TemperatureUnit
	cfg.WindSpeedUnit = wc.WindSpeedUnit
	cfg.WeatherRetryAttempts = wc.RetryAttempts
	cfg.WeatherRequestsPerMinute = wc.RequestsPerMinute

	dc := fc.Display
	cfg.DisplayWidth = dc.Width
	if cfg.DisplayWidth <= 0 {
		cfg.DisplayWidth = 825
	}
	cfg.DisplayHeight = dc.Height
	if cfg.DisplayHeight <= 0 {
		cfg.DisplayHeight = 1200
	}
	cfg.GrayLevels = dc.GrayLevels
	if cfg.GrayLevels == 0 {
		cfg.GrayLevels = 16
	}
	cfg.Rotate = dc.Rotate
	cfg.Panel = strings.TrimSpace(strings.ToLower(dc.Panel))
	if cfg.Panel == "" {
		cfg.Panel = "it8951"
	}
	cfg.VCOM = dc.VCOM
	cfg.SPIHz = dc.SPIHz
	cfg.PartialMaxBox = dc.PartialMaxBox

	cfg.DebugOutputPath = fc.Debug.OutputPath
	if cfg.DebugOutputPath == "" {
		cfg.DebugOutputPath = filepath.Join("debug_output", "current_display.png")
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend)))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.TransitAPIKey, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is; "0" disables full_refresh_interval.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field rules and resolves the timezone.
func validate(cfg *Config) error {
	switch cfg.Mode {
	case ModeHardware, ModeDebug:
	default:
		return fmt.Errorf("mode must be hardware or debug, got %q", cfg.Mode)
	}
	if len(cfg.TransitFeeds) == 0 {
		return fmt.Errorf("transit.feeds must list at least one feed")
	}
	if len(cfg.Stops) == 0 {
		return fmt.Errorf("transit.stops must list at least one stop")
	}
	if cfg.MinMinutes < 0 {
		return fmt.Errorf("transit.min_minutes must not be negative")
	}
	if cfg.MaxMinutes > 0 && cfg.MaxMinutes < cfg.MinMinutes {
		return fmt.Errorf("transit.max_minutes (%d) must be >= min_minutes (%d)", cfg.MaxMinutes, cfg.MinMinutes)
	}
	if err := validation.ValidateCoordinates(cfg.Latitude, cfg.Longitude); err != nil {
		return fmt.Errorf("weather: %w", err)
	}
	if cfg.WeatherPollInterval < cfg.TransitPollInterval {
		return fmt.Errorf("scheduler.weather_poll_interval (%s) must be >= transit_poll_interval (%s)",
			cfg.WeatherPollInterval, cfg.TransitPollInterval)
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		return fmt.Errorf("scheduler.backoff_max must be >= backoff_base")
	}
	if cfg.FullRefreshInterval < 0 {
		return fmt.Errorf("scheduler.full_refresh_interval must not be negative")
	}
	switch cfg.GrayLevels {
	case 2, 4, 16:
	default:
		return fmt.Errorf("display.gray_levels must be 2, 4 or 16, got %d", cfg.GrayLevels)
	}
	switch cfg.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("display.rotate must be 0, 90, 180 or 270, got %d", cfg.Rotate)
	}
	switch cfg.Panel {
	case "it8951", "waveshare2in13v4":
	default:
		return fmt.Errorf("display.panel must be it8951 or waveshare2in13v4, got %q", cfg.Panel)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}

	cfg.Location = time.Local
	if cfg.Timezone != "" && cfg.Timezone != "auto" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("weather.timezone: %w", err)
		}
		cfg.Location = loc
	}
	return nil
}
