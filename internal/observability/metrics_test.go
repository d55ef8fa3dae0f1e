package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, query, service, and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/aqi", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/aqi").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("weather", "success").Inc()
	UpstreamCallsTotal.WithLabelValues("air_pollution", "error").Inc()
	UpstreamDuration.WithLabelValues("geocode", "success").Observe(0.1)
	UpstreamErrorsTotal.WithLabelValues("timeout").Inc()
	QueryRequestsTotal.WithLabelValues("aqi", "hit").Inc()
	QueryRetriesTotal.WithLabelValues("aqi").Inc()
	QueryDiscardedTotal.WithLabelValues("location").Inc()
	QueryObservers.WithLabelValues("aqi").Set(1)
	GeolocationTotal.WithLabelValues("fallback").Inc()
	CircuitBreakerState.WithLabelValues("openweather").Set(0)
	RateLimitDeniedTotal.Inc()
}

// TestSetTrackedLocations_and_RecordAQIQuery verifies tracked locations get their own
// label and everything else is counted as "other".
func TestSetTrackedLocations_and_RecordAQIQuery(t *testing.T) {
	SetTrackedLocations([]string{"San Francisco, US", "London, GB"})
	defer SetTrackedLocations(nil)

	RecordAQIQuery("san francisco, us")
	RecordAQIQuery("Nowhere, XX")

	body := scrape(t)
	if !strings.Contains(body, `aqiQueriesByLocationTotal{location="san francisco, us"}`) {
		t.Error("tracked location should have its own label")
	}
	if !strings.Contains(body, `aqiQueriesByLocationTotal{location="other"}`) {
		t.Error("untracked location should be counted as other")
	}
}

func TestRegisterUpstreamGauges(t *testing.T) {
	RegisterUpstreamGauges(time.Minute,
		func(time.Duration) int { return 7 },
		func(time.Duration) int { return 2 },
	)
	// second call is a no-op rather than a duplicate registration panic
	RegisterUpstreamGauges(time.Minute,
		func(time.Duration) int { return 0 },
		func(time.Duration) int { return 0 },
	)

	body := scrape(t)
	if !strings.Contains(body, "upstreamCallsInWindow 7") {
		t.Error("expected upstreamCallsInWindow gauge")
	}
	if !strings.Contains(body, "upstreamFailuresInWindow 2") {
		t.Error("expected upstreamFailuresInWindow gauge")
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	body := scrape(t)
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("MetricsHandler status = %d, want 200", w.Code)
	}
	return w.Body.String()
}
