//go:build integration
// +build integration

// Package testhelpers wires the real stack for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/cache"
	"github.com/ashishkrishna888/Airlytics/internal/client"
	"github.com/ashishkrishna888/Airlytics/internal/geolocation"
	"github.com/ashishkrishna888/Airlytics/internal/query"
	"github.com/ashishkrishna888/Airlytics/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	BaseURL       string
	CacheBackend  string // "memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	baseURL := os.Getenv("OPENWEATHER_BASE_URL")
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		BaseURL:       baseURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService creates a DashboardService against the live provider.
// Returns the service, its store, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.DashboardService, cache.Cache, func()) {
	t.Helper()
	logger := zap.NewNop()
	owm := client.NewOpenWeatherClient(cfg.APIKey, cfg.BaseURL, 10*time.Second, client.WithLogger(logger))

	var store cache.Cache = cache.NewInMemoryCache()
	closeStore := func() {}
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("memcached not available (%v), using in-memory store", err)
		} else {
			store = mc
			closeStore = func() { _ = mc.Close() }
			t.Logf("using memcached store at %s", cfg.MemcachedAddr)
		}
	}

	queries := query.New(store, logger)
	detector := geolocation.NewDetector(geolocation.NewIPLocator("", 5*time.Second), geolocation.DefaultOptions())
	svc := service.NewDashboardService(owm, queries, detector, service.DefaultPolicies(), geolocation.DefaultLocation, logger)

	return svc, store, func() {
		queries.Close()
		closeStore()
	}
}
