package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

func TestCorrelationIDMiddleware_ReusesHeader(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seen != "abc-123" {
		t.Errorf("context correlation ID = %q, want abc-123", seen)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("response header = %q, want abc-123", got)
	}
}

// TestCorrelationIDMiddleware_LoggerCarriesID verifies the request-scoped
// logger is tagged with the minted correlation ID.
func TestCorrelationIDMiddleware_LoggerCarriesID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFromContext(r.Context(), nil).Info("handled")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	minted := w.Header().Get("X-Correlation-ID")
	if minted == "" {
		t.Fatal("no correlation ID minted")
	}
	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != minted {
		t.Errorf("correlation_id field = %v, want %q", got, minted)
	}
}

func TestMetricsMiddleware_RouteLabel(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/aqi", func(w http.ResponseWriter, r *http.Request) {
		if got := getRoute(r); got != "/api/aqi" {
			t.Errorf("getRoute() = %q, want /api/aqi", got)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/aqi", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute() without route = %q, want unmatched", got)
	}
}

func TestStatusRecorder_FlushAndUnwrap(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	rec.WriteHeader(http.StatusAccepted)
	rec.Flush()

	if rec.statusCode != http.StatusAccepted || !w.Flushed {
		t.Errorf("statusCode = %d flushed = %v", rec.statusCode, w.Flushed)
	}
	if rec.Unwrap() != w {
		t.Error("Unwrap() did not return the wrapped writer")
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var err error
	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(10 * time.Millisecond))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		err = r.Context().Err()
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	mock := &mockAirQualityClient{}
	mock.set(sanFrancisco(), nil)
	env := newTestEnv(t, mock, nil, nil, nil, RouterConfig{Limiter: rate.NewLimiter(1, 2)})

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodGet, "/api/aqi?lat=37.7749&lon=-122.4194", "")
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp errorBody
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" || errResp.Error.RequestID == "" {
			t.Errorf("error = %+v", errResp.Error)
		}
	}

	// Health is not rate limited.
	if w := env.do(t, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil limiter should pass requests through")
	}
}

func TestNewRouter_MetricsAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, &mockAirQualityClient{}, nil, nil, nil, RouterConfig{})

	if w := env.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("/api/unknown status = %d, want 404", w.Code)
	}
}
