package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = "server:\n  port: \"8080\"\n"

// isolate runs the test from a temp project dir with a clean environment.
func isolate(t *testing.T, envYAML string) string {
	t.Helper()
	for _, key := range []string{
		"ENV_NAME", "OPENWEATHER_API_KEY", "OPENWEATHER_BASE_URL", "SERVER_PORT",
		"STORE_BACKEND", "MEMCACHED_ADDRS", "GEOLOCATION_LOCATOR_URL",
		"TELEMETRY_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, envYAML)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_MissingAPIKeyIsAllowed(t *testing.T) {
	isolate(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.APIKey)
	}
}

func TestLoad_APIKeySources(t *testing.T) {
	t.Run("secrets file", func(t *testing.T) {
		dir := isolate(t, minimalEnvYAML)
		writeSecretsFile(t, dir, "openweather_api_key: key-from-secrets-file\n")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.APIKey != "key-from-secrets-file" {
			t.Errorf("APIKey = %q, want key from secrets file", cfg.APIKey)
		}
	})
	t.Run("env wins over secrets", func(t *testing.T) {
		dir := isolate(t, minimalEnvYAML)
		writeSecretsFile(t, dir, "openweather_api_key: key-from-secrets-file\n")
		t.Setenv("OPENWEATHER_API_KEY", "key-from-env")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.APIKey != "key-from-env" {
			t.Errorf("APIKey = %q, want key-from-env", cfg.APIKey)
		}
	})
	t.Run("dotenv", func(t *testing.T) {
		dir := isolate(t, minimalEnvYAML)
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENWEATHER_API_KEY=key-from-dotenv\nSTORE_BACKEND=memcached\n"), 0644); err != nil {
			t.Fatalf("write .env: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.APIKey != "key-from-dotenv" || cfg.StoreBackend != BackendMemcached {
			t.Errorf("APIKey = %q StoreBackend = %q", cfg.APIKey, cfg.StoreBackend)
		}
	})
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	isolate(t, minimalEnvYAML)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AQIQuery != (QueryConfig{StaleTime: 5 * time.Minute, RefetchInterval: 5 * time.Minute, Retry: 3}) {
		t.Errorf("AQIQuery = %+v", cfg.AQIQuery)
	}
	if cfg.SearchQuery != (QueryConfig{StaleTime: 10 * time.Minute, Retry: 2}) {
		t.Errorf("SearchQuery = %+v", cfg.SearchQuery)
	}
	if cfg.ReverseQuery != (QueryConfig{StaleTime: 30 * time.Minute, Retry: 2}) {
		t.Errorf("ReverseQuery = %+v", cfg.ReverseQuery)
	}
	if cfg.ProviderTimeout != 10*time.Second || cfg.RequestTimeout != 15*time.Second {
		t.Errorf("ProviderTimeout = %v RequestTimeout = %v", cfg.ProviderTimeout, cfg.RequestTimeout)
	}
	if cfg.StoreBackend != BackendMemory || cfg.StoreRetention != time.Hour {
		t.Errorf("StoreBackend = %q StoreRetention = %v", cfg.StoreBackend, cfg.StoreRetention)
	}
	if !cfg.GeolocationHighAccuracy || cfg.GeolocationTimeout != 10*time.Second || cfg.GeolocationMaxAge != 5*time.Minute {
		t.Errorf("geolocation = %v %v %v", cfg.GeolocationHighAccuracy, cfg.GeolocationTimeout, cfg.GeolocationMaxAge)
	}
	if cfg.DefaultLocation.Name != "San Francisco" || cfg.DefaultLocation.Lat != 37.7749 {
		t.Errorf("DefaultLocation = %+v", cfg.DefaultLocation)
	}
	if cfg.TestingMode || cfg.TelemetryEnabled || cfg.WarmInterval != 0 {
		t.Errorf("TestingMode = %v TelemetryEnabled = %v WarmInterval = %v", cfg.TestingMode, cfg.TelemetryEnabled, cfg.WarmInterval)
	}
}

func TestLoad_FullFile(t *testing.T) {
	isolate(t, `testing_mode: true
server:
  port: "9090"
  request_timeout: 20s
queries:
  aqi:
    stale_time: 1m
    refetch_interval: 2m
    retry: 0
  search:
    stale_time: bogus
store:
  backend: MEMCACHED
  retention: 2h
  memcached:
    addrs: "cache-1:11211,cache-2:11211"
geolocation:
  high_accuracy: false
  max_age: 0s
default_location:
  name: London
  lat: 51.5074
  lon: -0.1278
  country: GB
warming:
  interval: 10m
  locations:
    - {name: Paris, lat: 48.8566, lon: 2.3522, country: FR}
telemetry:
  enabled: true
  sample_ratio: 0.1
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TestingMode || cfg.ServerPort != "9090" || cfg.RequestTimeout != 20*time.Second {
		t.Errorf("server = %v %q %v", cfg.TestingMode, cfg.ServerPort, cfg.RequestTimeout)
	}
	if cfg.AQIQuery != (QueryConfig{StaleTime: time.Minute, RefetchInterval: 2 * time.Minute, Retry: 0}) {
		t.Errorf("AQIQuery = %+v, want explicit retry 0 kept", cfg.AQIQuery)
	}
	if cfg.SearchQuery.StaleTime != 10*time.Minute {
		t.Errorf("SearchQuery.StaleTime = %v, want default on parse error", cfg.SearchQuery.StaleTime)
	}
	if cfg.StoreBackend != BackendMemcached || cfg.StoreRetention != 2*time.Hour || cfg.MemcachedAddrs != "cache-1:11211,cache-2:11211" {
		t.Errorf("store = %q %v %q", cfg.StoreBackend, cfg.StoreRetention, cfg.MemcachedAddrs)
	}
	if cfg.GeolocationHighAccuracy || cfg.GeolocationMaxAge != 0 {
		t.Errorf("geolocation = %v %v", cfg.GeolocationHighAccuracy, cfg.GeolocationMaxAge)
	}
	if cfg.DefaultLocation.Name != "London" || cfg.DefaultLocation.Country != "GB" {
		t.Errorf("DefaultLocation = %+v", cfg.DefaultLocation)
	}
	if cfg.WarmInterval != 10*time.Minute || len(cfg.TrackedLocations) != 1 || cfg.TrackedLocations[0].Name != "Paris" {
		t.Errorf("warming = %v %+v", cfg.WarmInterval, cfg.TrackedLocations)
	}
	if !cfg.TelemetryEnabled || cfg.TelemetrySampleRatio != 0.1 {
		t.Errorf("telemetry = %v %v", cfg.TelemetryEnabled, cfg.TelemetrySampleRatio)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t, "store:\n  backend: memory\n")
	t.Setenv("STORE_BACKEND", "memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc:11211")
	t.Setenv("OPENWEATHER_BASE_URL", "http://provider.test")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("TELEMETRY_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != BackendMemcached || cfg.MemcachedAddrs != "mc:11211" {
		t.Errorf("store = %q %q", cfg.StoreBackend, cfg.MemcachedAddrs)
	}
	if cfg.ProviderURL != "http://provider.test" || cfg.ServerPort != "7000" || !cfg.TelemetryEnabled {
		t.Errorf("ProviderURL = %q ServerPort = %q TelemetryEnabled = %v", cfg.ProviderURL, cfg.ServerPort, cfg.TelemetryEnabled)
	}
}

func TestLoad_RequestTimeoutRaisedAboveProviderTimeout(t *testing.T) {
	isolate(t, "server:\n  request_timeout: 2s\nprovider:\n  timeout: 5s\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 6*time.Second {
		t.Errorf("RequestTimeout = %v, want 6s", cfg.RequestTimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero provider timeout", "provider:\n  timeout: 0s\n", "provider.timeout"},
		{"unknown backend", "store:\n  backend: redis\n", "store.backend"},
		{"negative retry", "queries:\n  search:\n    retry: -1\n", "queries.search.retry"},
		{"negative stale time", "queries:\n  reverse:\n    stale_time: -1m\n", "queries.reverse"},
		{"default location out of range", "default_location:\n  name: Nowhere\n  lat: 100\n  lon: 0\n", "default_location"},
		{"tracked location out of range", "warming:\n  locations:\n    - {name: X, lat: 0, lon: 200}\n", "warming.locations[0]"},
		{"sample ratio", "telemetry:\n  sample_ratio: 2\n", "sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t, tt.yaml)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	t.Run("config yaml", func(t *testing.T) {
		isolate(t, "server: [unclosed\n")
		if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
			t.Fatalf("Load() error = %v", err)
		}
	})
	t.Run("secrets yaml", func(t *testing.T) {
		dir := isolate(t, minimalEnvYAML)
		writeSecretsFile(t, dir, "openweather_api_key: [unclosed\n")
		if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
			t.Fatalf("Load() error = %v", err)
		}
	})
	t.Run("telemetry env", func(t *testing.T) {
		isolate(t, minimalEnvYAML)
		t.Setenv("TELEMETRY_ENABLED", "maybe")
		if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TELEMETRY_ENABLED") {
			t.Fatalf("Load() error = %v", err)
		}
	})
}

// TestLoad_ProjectDevConfig loads the checked-in config/dev.yaml.
func TestLoad_ProjectDevConfig(t *testing.T) {
	root := findProjectRoot(t)
	data, err := os.ReadFile(filepath.Join(root, "config", "dev.yaml"))
	if err != nil {
		t.Fatalf("read dev.yaml: %v", err)
	}
	isolate(t, string(data))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != BackendMemory || len(cfg.TrackedLocations) == 0 {
		t.Errorf("StoreBackend = %q TrackedLocations = %d", cfg.StoreBackend, len(cfg.TrackedLocations))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
		zero time.Duration
	}{
		{"", time.Second, time.Second, time.Second},
		{"bogus", time.Second, time.Second, time.Second},
		{" 3s ", time.Second, 3 * time.Second, 3 * time.Second},
		{"0s", time.Second, time.Second, 0},
		{"-1s", time.Second, time.Second, -time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got := parseDurationOrZero(tt.in, tt.def); got != tt.zero {
			t.Errorf("parseDurationOrZero(%q) = %v, want %v", tt.in, got, tt.zero)
		}
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("read_error_paths", func(t *testing.T) {
		t.Skip("non-IsNotExist ReadFile failures for config, secrets and .env need injected filesystem errors")
	})
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
