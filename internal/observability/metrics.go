package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap call rate by endpoint (weather, air_pollution, geocode). Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// OpenWeatherMap latency per request. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by category (client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Orchestrated lookups by query kind and outcome (hit, stale, miss, coalesced, idle).
	QueryRequestsTotal *prometheus.CounterVec

	// Retry attempts made by the orchestrator. Watch for: high retries = unstable upstream.
	QueryRetriesTotal *prometheus.CounterVec

	// Fetch results dropped because every caller went away before completion.
	QueryDiscardedTotal *prometheus.CounterVec

	// Registered observers per query kind.
	QueryObservers *prometheus.GaugeVec

	// Per-location AQI lookups (allow-list; others go to "other").
	AQIQueriesByLocationTotal *prometheus.CounterVec

	// Current-location detections by outcome (detected, cached, fallback).
	GeolocationTotal *prometheus.CounterVec

	// Circuit breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Cache warming runs, failures and duration for tracked locations.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// trackedLocations is built from config; used to resolve location for metrics.
	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	upstreamGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "OpenWeatherMap failures by error category",
		},
		[]string{"category"},
	)
	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryRequestsTotal",
			Help: "Orchestrated lookups by query kind and cache outcome",
		},
		[]string{"kind", "outcome"},
	)
	QueryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryRetriesTotal",
			Help: "Total number of retry attempts made by the orchestrator",
		},
		[]string{"kind"},
	)
	QueryDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryDiscardedTotal",
			Help: "Fetch results discarded because no caller was waiting",
		},
		[]string{"kind"},
	)
	QueryObservers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queryObservers",
			Help: "Registered observers per query kind",
		},
		[]string{"kind"},
	)
	AQIQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiQueriesByLocationTotal",
			Help: "AQI lookups by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	GeolocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geolocationTotal",
			Help: "Current-location detections by outcome",
		},
		[]string{"outcome"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		QueryRequestsTotal, QueryRetriesTotal, QueryDiscardedTotal, QueryObservers,
		AQIQueriesByLocationTotal, GeolocationTotal,
		CircuitBreakerState, RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RegisterUpstreamGauges registers sliding-window gauges for upstream load.
// Call from main once the upstream tracker exists.
func RegisterUpstreamGauges(window time.Duration, calls, failures func(time.Duration) int) {
	upstreamGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "upstreamCallsInWindow",
					Help: "OpenWeatherMap calls in sliding window",
				},
				func() float64 { return float64(calls(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "upstreamFailuresInWindow",
					Help: "Failed OpenWeatherMap calls in sliding window",
				},
				func() float64 { return float64(failures(window)) },
			),
		)
	})
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordAQIQuery records an AQI lookup for the given display location.
func RecordAQIQuery(location string) {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		AQIQueriesByLocationTotal.WithLabelValues(loc).Inc()
	} else {
		AQIQueriesByLocationTotal.WithLabelValues("other").Inc()
	}
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
