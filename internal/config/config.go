package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/validation"
)

const (
	BackendMemory    = "memory"
	BackendMemcached = "memcached"
)

// QueryConfig is the cache and retry policy of one query kind.
type QueryConfig struct {
	StaleTime       time.Duration
	RefetchInterval time.Duration // 0 disables interval refetch
	Retry           int
}

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	TestingMode bool
	Environment string

	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	QueryMaxLength  int

	// APIKey may be empty: the service starts and reports degraded health.
	APIKey          string
	ProviderURL     string
	ProviderTimeout time.Duration

	AQIQuery     QueryConfig
	SearchQuery  QueryConfig
	ReverseQuery QueryConfig

	StoreBackend          string // "memory" or "memcached"
	StoreRetention        time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	GeolocationHighAccuracy bool
	GeolocationTimeout      time.Duration
	GeolocationMaxAge       time.Duration
	GeolocationLocatorURL   string

	DefaultLocation  models.LocationCandidate
	TrackedLocations []models.LocationCandidate
	WarmInterval     time.Duration // 0 warms once at startup only

	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
	DegradedMinCalls int

	TelemetryEnabled     bool
	TelemetryEndpoint    string
	TelemetrySampleRatio float64
}

type queryFile struct {
	StaleTime       string `yaml:"stale_time"`
	RefetchInterval string `yaml:"refetch_interval"`
	Retry           *int   `yaml:"retry"`
}

type locationFile struct {
	Name    string  `yaml:"name"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Country string  `yaml:"country"`
	State   string  `yaml:"state"`
}

func (l locationFile) candidate() models.LocationCandidate {
	return models.LocationCandidate{Name: l.Name, Lat: l.Lat, Lon: l.Lon, Country: l.Country, State: l.State}
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port            string `yaml:"port"`
		RequestTimeout  string `yaml:"request_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		QueryMaxLength  int    `yaml:"query_max_length"`
	} `yaml:"server"`

	Provider struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"provider"`

	Queries struct {
		AQI     queryFile `yaml:"aqi"`
		Search  queryFile `yaml:"search"`
		Reverse queryFile `yaml:"reverse"`
	} `yaml:"queries"`

	Store struct {
		Backend   string `yaml:"backend"`
		Retention string `yaml:"retention"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"store"`

	Geolocation struct {
		HighAccuracy *bool  `yaml:"high_accuracy"`
		Timeout      string `yaml:"timeout"`
		MaxAge       string `yaml:"max_age"`
		LocatorURL   string `yaml:"locator_url"`
	} `yaml:"geolocation"`

	DefaultLocation *locationFile `yaml:"default_location"`

	Warming struct {
		Interval  string         `yaml:"interval"`
		Locations []locationFile `yaml:"locations"`
	} `yaml:"warming"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		DegradedMinCalls int    `yaml:"degraded_min_calls"`
	} `yaml:"health"`

	Telemetry struct {
		Enabled     bool    `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"telemetry"`
}

type secretsFile struct {
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
}

var defaultLocation = models.LocationCandidate{Name: "San Francisco", Lat: 37.7749, Lon: -122.4194, Country: "US"}

// Load reads config/{ENV_NAME}.yaml (default dev), then .env, then
// environment overrides. The API key comes from OPENWEATHER_API_KEY or
// config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
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

	cfg := &Config{Environment: env}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 30*time.Second)
	cfg.QueryMaxLength = fc.Server.QueryMaxLength
	if cfg.QueryMaxLength <= 0 {
		cfg.QueryMaxLength = 100
	}

	cfg.APIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}
	cfg.ProviderURL = firstNonEmpty(os.Getenv("OPENWEATHER_BASE_URL"), fc.Provider.URL, "https://api.openweathermap.org")
	cfg.ProviderTimeout = parseDurationOrZero(fc.Provider.Timeout, 10*time.Second)

	cfg.AQIQuery = parseQuery(fc.Queries.AQI, QueryConfig{StaleTime: 5 * time.Minute, RefetchInterval: 5 * time.Minute, Retry: 3})
	cfg.SearchQuery = parseQuery(fc.Queries.Search, QueryConfig{StaleTime: 10 * time.Minute, Retry: 2})
	cfg.ReverseQuery = parseQuery(fc.Queries.Reverse, QueryConfig{StaleTime: 30 * time.Minute, Retry: 2})

	cfg.StoreBackend = strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("STORE_BACKEND")),
		strings.TrimSpace(fc.Store.Backend),
		BackendMemory,
	))
	cfg.StoreRetention = parseDuration(fc.Store.Retention, time.Hour)
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Store.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Store.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.GeolocationHighAccuracy = true
	if fc.Geolocation.HighAccuracy != nil {
		cfg.GeolocationHighAccuracy = *fc.Geolocation.HighAccuracy
	}
	cfg.GeolocationTimeout = parseDuration(fc.Geolocation.Timeout, 10*time.Second)
	cfg.GeolocationMaxAge = parseDurationOrZero(fc.Geolocation.MaxAge, 5*time.Minute)
	cfg.GeolocationLocatorURL = firstNonEmpty(os.Getenv("GEOLOCATION_LOCATOR_URL"), fc.Geolocation.LocatorURL, "http://ip-api.com")

	cfg.DefaultLocation = defaultLocation
	if fc.DefaultLocation != nil {
		cfg.DefaultLocation = fc.DefaultLocation.candidate()
	}
	for _, l := range fc.Warming.Locations {
		cfg.TrackedLocations = append(cfg.TrackedLocations, l.candidate())
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedMinCalls = fc.Health.DegradedMinCalls
	if cfg.DegradedMinCalls <= 0 {
		cfg.DegradedMinCalls = 5
	}

	cfg.TelemetryEnabled = fc.Telemetry.Enabled
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TELEMETRY_ENABLED: %w", err)
		}
		cfg.TelemetryEnabled = enabled
	}
	cfg.TelemetryEndpoint = firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), fc.Telemetry.Endpoint, "localhost:4317")
	cfg.TelemetrySampleRatio = fc.Telemetry.SampleRatio

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey prefers OPENWEATHER_API_KEY, then config/secrets.yaml. A
// missing key is not an error.
func loadAPIKey(cwd string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY")); key != "" {
		return key, nil
	}
	data, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
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
	return strings.TrimSpace(sec.OpenWeatherAPIKey), nil
}

func parseQuery(f queryFile, def QueryConfig) QueryConfig {
	q := QueryConfig{
		StaleTime:       parseDurationOrZero(f.StaleTime, def.StaleTime),
		RefetchInterval: parseDurationOrZero(f.RefetchInterval, def.RefetchInterval),
		Retry:           def.Retry,
	}
	if f.Retry != nil {
		q.Retry = *f.Retry
	}
	return q
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
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
// Zero and negative durations are returned as-is.
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

// validate performs post-load validation. RequestTimeout is raised above
// ProviderTimeout when needed.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		cfg.RequestTimeout = cfg.ProviderTimeout + time.Second
	}
	for name, q := range map[string]QueryConfig{"aqi": cfg.AQIQuery, "search": cfg.SearchQuery, "reverse": cfg.ReverseQuery} {
		if q.StaleTime < 0 || q.RefetchInterval < 0 {
			return fmt.Errorf("queries.%s: durations must not be negative", name)
		}
		if q.Retry < 0 {
			return fmt.Errorf("queries.%s.retry must not be negative, got %d", name, q.Retry)
		}
	}
	switch cfg.StoreBackend {
	case BackendMemory, BackendMemcached:
	default:
		return fmt.Errorf("store.backend must be memory or memcached, got %q", cfg.StoreBackend)
	}
	if cfg.GeolocationMaxAge < 0 {
		return fmt.Errorf("geolocation.max_age must not be negative")
	}
	if err := validation.ValidateCoordinates(cfg.DefaultLocation.Lat, cfg.DefaultLocation.Lon); err != nil {
		return fmt.Errorf("default_location: %w", err)
	}
	for i, l := range cfg.TrackedLocations {
		if err := validation.ValidateCoordinates(l.Lat, l.Lon); err != nil {
			return fmt.Errorf("warming.locations[%d]: %w", i, err)
		}
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("warming.interval must not be negative")
	}
	if cfg.TelemetrySampleRatio < 0 || cfg.TelemetrySampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1], got %v", cfg.TelemetrySampleRatio)
	}
	return nil
}
