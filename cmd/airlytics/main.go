package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ashishkrishna888/Airlytics/internal/cache"
	"github.com/ashishkrishna888/Airlytics/internal/circuitbreaker"
	"github.com/ashishkrishna888/Airlytics/internal/client"
	"github.com/ashishkrishna888/Airlytics/internal/config"
	"github.com/ashishkrishna888/Airlytics/internal/geolocation"
	httphandler "github.com/ashishkrishna888/Airlytics/internal/http"
	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
	"github.com/ashishkrishna888/Airlytics/internal/query"
	"github.com/ashishkrishna888/Airlytics/internal/service"
	"github.com/ashishkrishna888/Airlytics/internal/telemetry"
	"github.com/ashishkrishna888/Airlytics/internal/traffic"
)

const serviceName = "airlytics"

func main() {
	logger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.APIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY not set; upstream calls will be rejected as unauthorized")
	}

	tp, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.TelemetryEndpoint,
		SampleRatio:    cfg.TelemetrySampleRatio,
		Enabled:        cfg.TelemetryEnabled,
	})
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "openweathermap",
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues("openweathermap").Set(float64(to))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues("openweathermap").Set(0)

	tracker := traffic.NewTracker()
	observability.RegisterUpstreamGauges(cfg.DegradedWindow, tracker.CallCount, tracker.FailureCount)

	owm := client.NewOpenWeatherClient(cfg.APIKey, cfg.ProviderURL, cfg.ProviderTimeout,
		client.WithCircuitBreaker(breaker),
		client.WithTracker(tracker),
		client.WithLogger(logger),
	)
	if cfg.APIKey != "" && !cfg.TestingMode {
		if err := owm.ValidateAPIKey(context.Background()); err != nil {
			logger.Warn("API key check failed", zap.Error(err))
		}
	}

	var (
		store     cache.Cache
		memcached *cache.MemcachedCache
	)
	switch cfg.StoreBackend {
	case config.BackendMemcached:
		memcached = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		store = memcached
		logger.Info("store backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("store backend: memory")
	}
	queries := query.New(store, logger, query.WithRetention(cfg.StoreRetention))

	detector := geolocation.NewDetector(
		geolocation.NewIPLocator(cfg.GeolocationLocatorURL, cfg.GeolocationTimeout),
		geolocation.Options{
			EnableHighAccuracy: cfg.GeolocationHighAccuracy,
			Timeout:            cfg.GeolocationTimeout,
			MaximumAge:         cfg.GeolocationMaxAge,
		},
	)

	dashboard := service.NewDashboardService(owm, queries, detector, policiesFromConfig(cfg), cfg.DefaultLocation, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.SetTrackedLocations(trackedNames(cfg.TrackedLocations))
	if len(cfg.TrackedLocations) > 0 && cfg.APIKey != "" {
		warmer := cache.NewCacheWarmer(dashboard, logger)
		go func() {
			warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := warmer.Warm(warmCtx, cfg.TrackedLocations); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			cancel()
			if cfg.WarmInterval > 0 {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedLocations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}
		}()
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		DegradedMinCalls: cfg.DegradedMinCalls,
		APIKeyConfigured: cfg.APIKey != "",
		StartTime:        time.Now(),
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	handler := httphandler.NewHandler(dashboard, tracker, breaker, healthConfig, logger, cfg.QueryMaxLength)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	})

	// WriteTimeout must cover retried fetches; the stream route clears it.
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	queries.Close()

	if err := observability.FlushTelemetry(shutdownCtx, logger, tp.Shutdown); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func policiesFromConfig(cfg *config.Config) service.Policies {
	toOptions := func(q config.QueryConfig) query.Options {
		return query.Options{StaleTime: q.StaleTime, RefetchInterval: q.RefetchInterval, Retry: q.Retry}
	}
	return service.Policies{
		AQI:     toOptions(cfg.AQIQuery),
		Search:  toOptions(cfg.SearchQuery),
		Reverse: toOptions(cfg.ReverseQuery),
	}
}

// trackedNames renders locations the way AQI results name them.
func trackedNames(locations []models.LocationCandidate) []string {
	names := make([]string, 0, len(locations))
	for _, l := range locations {
		names = append(names, fmt.Sprintf("%s, %s", l.Name, l.Country))
	}
	return names
}
