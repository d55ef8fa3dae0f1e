package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ashishkrishna888/Airlytics/internal/airquality"
	"github.com/ashishkrishna888/Airlytics/internal/circuitbreaker"
	"github.com/ashishkrishna888/Airlytics/internal/client"
	"github.com/ashishkrishna888/Airlytics/internal/geolocation"
	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
	"github.com/ashishkrishna888/Airlytics/internal/query"
	"github.com/ashishkrishna888/Airlytics/internal/service"
	"github.com/ashishkrishna888/Airlytics/internal/traffic"
	"github.com/ashishkrishna888/Airlytics/internal/validation"
)

// HealthConfig holds thresholds and checks for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	DegradedMinCalls int
	APIKeyConfigured bool
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard      *service.DashboardService
	tracker        *traffic.Tracker
	breaker        *circuitbreaker.CircuitBreaker
	healthConfig   *HealthConfig
	logger         *zap.Logger
	queryMaxLength int
	keepAlive      time.Duration

	shuttingDown     atomic.Bool
	done             chan struct{}
	doneOnce         sync.Once
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and breaker may be nil.
func NewHandler(
	dashboard *service.DashboardService,
	tracker *traffic.Tracker,
	breaker *circuitbreaker.CircuitBreaker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	queryMaxLength int,
) *Handler {
	return &Handler{
		dashboard:      dashboard,
		tracker:        tracker,
		breaker:        breaker,
		healthConfig:   healthConfig,
		logger:         logger,
		queryMaxLength: queryMaxLength,
		keepAlive:      15 * time.Second,
		done:           make(chan struct{}),
	}
}

// Shutdown marks the handler as draining: health reports shutting-down and
// open AQI streams end.
func (h *Handler) Shutdown() {
	h.shuttingDown.Store(true)
	h.doneOnce.Do(func() { close(h.done) })
}

// aqiView is the AQI view model plus the card's derived display values.
type aqiView struct {
	models.AirQuality
	Band            string                           `json:"band"`
	Gauge           float64                          `json:"gauge"`
	Recommendation  airquality.Recommendation        `json:"recommendation"`
	PollutantGauges map[models.PollutantKind]float64 `json:"pollutantGauges"`
}

func newAQIView(aq models.AirQuality) aqiView {
	gauges := make(map[models.PollutantKind]float64, len(aq.Pollutants))
	for kind, p := range aq.Pollutants {
		gauges[kind], _ = airquality.PollutantGauge(kind, p.Value)
	}
	return aqiView{
		AirQuality:      aq,
		Band:            string(airquality.DisplayBand(aq.AQI).Level),
		Gauge:           airquality.GaugePercent(aq.AQI),
		Recommendation:  airquality.Recommend(aq.AQI),
		PollutantGauges: gauges,
	}
}

// queryResponse wraps an orchestrated result. Error is set alongside data
// when a refetch failed but earlier data is still shown.
type queryResponse[V any] struct {
	Data      *V         `json:"data,omitempty"`
	Status    string     `json:"status"`
	Stale     bool       `json:"stale"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func newQueryResponse[T, V any](res query.Result[T], view func(T) V) queryResponse[V] {
	resp := queryResponse[V]{Status: string(res.Status), Stale: res.Stale}
	if res.HasData {
		v := view(res.Data)
		resp.Data = &v
		fetchedAt := res.FetchedAt.UTC()
		resp.FetchedAt = &fetchedAt
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

func identity[T any](v T) T { return v }

// writeResult writes res, or an error response when no data could be obtained.
func writeResult[T, V any](w http.ResponseWriter, r *http.Request, res query.Result[T], err error, view func(T) V) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Err != nil && !res.HasData {
		writeServiceError(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(res, view))
}

// GetAQI handles GET /api/aqi?lat=&lon=[&refresh=true].
func (h *Handler) GetAQI(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordinatesFromQuery(w, r)
	if !ok {
		return
	}
	var (
		res query.Result[models.AirQuality]
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		res, err = h.dashboard.RefreshAQI(r.Context(), lat, lon)
	} else {
		res, err = h.dashboard.AQI(r.Context(), lat, lon)
	}
	writeResult(w, r, res, err, newAQIView)
}

// StreamAQI handles GET /api/aqi/stream?lat=&lon= as server-sent events.
// The current result is sent first, then every update while the client
// stays connected. The key is refetched on its interval meanwhile.
func (h *Handler) StreamAQI(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordinatesFromQuery(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming is not supported")
		return
	}
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	// Holds only the latest update; a slow client skips intermediate ones.
	updates := make(chan query.Result[models.AirQuality], 1)
	unsubscribe := h.dashboard.WatchAQI(lat, lon, func(res query.Result[models.AirQuality]) {
		for {
			select {
			case updates <- res:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(res query.Result[models.AirQuality]) bool {
		payload, err := json.Marshal(newQueryResponse(res, newAQIView))
		if err != nil {
			logger.Warn("encode aqi event", zap.Error(err))
			return true
		}
		if _, err := w.Write([]byte("event: aqi\ndata: " + string(payload) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	initial, err := h.dashboard.AQI(r.Context(), lat, lon)
	if err != nil {
		return
	}
	if !send(initial) {
		return
	}
	// The fetch behind the initial result also notifies the observer.
	lastSent := initial.FetchedAt

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case res := <-updates:
			if res.Status == query.StatusFetching {
				continue
			}
			if res.Err == nil && !res.FetchedAt.After(lastSent) {
				continue
			}
			if !send(res) {
				return
			}
			if res.FetchedAt.After(lastSent) {
				lastSent = res.FetchedAt
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// SearchLocations handles GET /api/locations?q=. Short queries stay idle
// and return an empty list; other invalid input is a 400.
func (h *Handler) SearchLocations(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("q")
	if validation.SearchEnabled(raw) {
		if _, err := validation.ValidateQuery(raw, h.queryMaxLength); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
			return
		}
	}
	res, err := h.dashboard.SearchLocations(r.Context(), raw)
	if err == nil && res.Status == query.StatusIdle && !res.HasData {
		res.Data = []models.LocationCandidate{}
		res.HasData = true
	}
	writeResult(w, r, res, err, identity[[]models.LocationCandidate])
}

// ReverseGeocode handles GET /api/reverse?lat=&lon=.
func (h *Handler) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordinatesFromQuery(w, r)
	if !ok {
		return
	}
	res, err := h.dashboard.ReverseGeocode(r.Context(), lat, lon)
	writeResult(w, r, res, err, identity[models.LocationCandidate])
}

// UpdateLocation handles POST /api/location with body {"lat":..,"lon":..}.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Lat == nil || body.Lon == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", validation.ErrCoordinatesMissing.Error())
		return
	}
	if err := validation.ValidateCoordinates(*body.Lat, *body.Lon); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}
	data, err := h.dashboard.UpdateLocation(r.Context(), *body.Lat, *body.Lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAQIView(data))
}

// currentLocationResponse reports detected coordinates or the fallback.
type currentLocationResponse struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name,omitempty"`
	Fallback bool    `json:"fallback"`
	Message  string  `json:"message,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// GetCurrentLocation handles GET /api/location/current. Detection failures
// are not errors: the default location is returned with fallback set.
func (h *Handler) GetCurrentLocation(w http.ResponseWriter, r *http.Request) {
	ctx := geolocation.WithClientIP(r.Context(), clientIP(r))
	loc := h.dashboard.CurrentLocation(ctx)
	resp := currentLocationResponse{
		Lat:      loc.Coordinates.Lat,
		Lon:      loc.Coordinates.Lon,
		Name:     loc.Name,
		Fallback: loc.Fallback,
		Message:  loc.Message,
	}
	if loc.Err != nil {
		resp.Error = loc.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientIP prefers the first X-Forwarded-For hop, then the remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.breaker != nil {
		checks["circuitBreaker"] = h.breaker.State().String()
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "airlytics",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key missing > circuit open > upstream error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && !h.healthConfig.APIKeyConfigured {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_missing"}
	}
	if h.breaker != nil && h.breaker.State() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig != nil && h.tracker != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		threshold := float64(h.healthConfig.DegradedErrorPct) / 100
		switch h.tracker.Health(h.healthConfig.DegradedWindow, threshold, h.healthConfig.DegradedMinCalls) {
		case traffic.HealthDegraded:
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		case traffic.HealthIdle:
			return healthResult{"idle", http.StatusOK, "no_upstream_traffic"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// coordinatesFromQuery parses lat/lon, writing a 400 on failure.
func coordinatesFromQuery(w http.ResponseWriter, r *http.Request) (lat, lon float64, ok bool) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return 0, 0, false
	}
	return lat, lon, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps an upstream or orchestration failure to a status
// and error code. The underlying error is logged at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := serviceErrorResponse(err)
	writeError(w, r, status, code, message)
	if logger := observability.LoggerFromContext(r.Context(), nil); logger != nil {
		logger.Debug("upstream error", zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
	}
}

func serviceErrorResponse(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, validation.ErrCoordinatesMissing), errors.Is(err, validation.ErrCoordinatesOutOfRange):
		return http.StatusBadRequest, "INVALID_COORDINATES", err.Error()
	case errors.Is(err, client.ErrInvalidAPIKey):
		return http.StatusBadGateway, "UPSTREAM_UNAUTHORIZED", "Weather provider rejected the API key"
	case errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found"
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED", "Weather provider rate limit reached"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT", "Timed out fetching air quality data"
	default:
		return http.StatusServiceUnavailable, "UPSTREAM_ERROR", "Unable to fetch air quality data"
	}
}

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
}

// NewRouter registers every route on a new router. API routes other than
// the stream get the request timeout; all API routes are rate limited.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.HandleFunc("/aqi/stream", h.StreamAQI).Methods(http.MethodGet)

	timed := api.NewRoute().Subrouter()
	if cfg.RequestTimeout > 0 {
		timed.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	timed.HandleFunc("/aqi", h.GetAQI).Methods(http.MethodGet)
	timed.HandleFunc("/locations", h.SearchLocations).Methods(http.MethodGet)
	timed.HandleFunc("/reverse", h.ReverseGeocode).Methods(http.MethodGet)
	timed.HandleFunc("/location", h.UpdateLocation).Methods(http.MethodPost)
	timed.HandleFunc("/location/current", h.GetCurrentLocation).Methods(http.MethodGet)
	return router
}
