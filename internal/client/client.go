package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashishkrishna888/Airlytics/internal/airquality"
	"github.com/ashishkrishna888/Airlytics/internal/circuitbreaker"
	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
	"github.com/ashishkrishna888/Airlytics/internal/traffic"
)

// AirQualityClient is the upstream surface the orchestrated queries call.
// No method retries; retry belongs to the caller.
type AirQualityClient interface {
	FetchCurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherReading, error)
	FetchAirPollution(ctx context.Context, lat, lon float64) (models.PollutionReading, error)
	FetchAQIData(ctx context.Context, lat, lon float64) (models.AirQuality, error)
	SearchLocations(ctx context.Context, query string) ([]models.LocationCandidate, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (models.LocationCandidate, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

const (
	DefaultBaseURL = "https://api.openweathermap.org"

	weatherPath   = "/data/2.5/weather"
	pollutionPath = "/data/2.5/air_pollution"
	geocodePath   = "/geo/1.0/direct"

	// SearchLimit caps geocoding results.
	SearchLimit = 10
)

// Endpoint labels used for metrics, spans and error messages.
const (
	EndpointWeather   = "weather"
	EndpointPollution = "air_pollution"
	EndpointGeocode   = "geocode"
)

// APIError is a non-2xx response or a provider-embedded error code.
// It unwraps to one of the package sentinel errors.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case e.Status == http.StatusNotFound:
		return ErrLocationNotFound
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstreamFailure
	}
}

type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	tracker *traffic.Tracker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Option configures an OpenWeatherClient.
type Option func(*OpenWeatherClient)

// WithCircuitBreaker routes every upstream call through cb.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *OpenWeatherClient) { c.breaker = cb }
}

// WithTracker records every call outcome in t.
func WithTracker(t *traffic.Tracker) Option {
	return func(c *OpenWeatherClient) { c.tracker = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *OpenWeatherClient) { c.logger = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenWeatherClient) { c.client = hc }
}

// NewOpenWeatherClient builds a client for baseURL (scheme and host, no path).
// An empty apiKey is accepted; the provider rejects each call with 401.
// A zero timeout leaves calls bounded only by ctx.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration, opts ...Option) *OpenWeatherClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &OpenWeatherClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/ashishkrishna888/Airlytics/internal/client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCurrentWeather calls /data/2.5/weather. A body with cod != 200 is an
// error even when the HTTP status is 2xx.
func (c *OpenWeatherClient) FetchCurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherReading, error) {
	var w models.WeatherReading
	if err := c.get(ctx, EndpointWeather, weatherPath, coordParams(lat, lon), &w); err != nil {
		return models.WeatherReading{}, err
	}
	if w.Cod != 0 && w.Cod != http.StatusOK {
		msg := w.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return models.WeatherReading{}, &APIError{Endpoint: EndpointWeather, Status: int(w.Cod), Message: msg}
	}
	return w, nil
}

// FetchAirPollution calls /data/2.5/air_pollution.
func (c *OpenWeatherClient) FetchAirPollution(ctx context.Context, lat, lon float64) (models.PollutionReading, error) {
	var p models.PollutionReading
	if err := c.get(ctx, EndpointPollution, pollutionPath, coordParams(lat, lon), &p); err != nil {
		return models.PollutionReading{}, err
	}
	return p, nil
}

// FetchAQIData fetches weather and pollution concurrently and transforms them.
// The first failure fails the whole call.
func (c *OpenWeatherClient) FetchAQIData(ctx context.Context, lat, lon float64) (models.AirQuality, error) {
	var (
		weather   models.WeatherReading
		pollution models.PollutionReading
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		weather, err = c.FetchCurrentWeather(gctx, lat, lon)
		return err
	})
	g.Go(func() error {
		var err error
		pollution, err = c.FetchAirPollution(gctx, lat, lon)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.AirQuality{}, err
	}
	return airquality.Transform(weather, pollution)
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// SearchLocations calls the direct geocoding endpoint. No match is an empty
// slice, not an error.
func (c *OpenWeatherClient) SearchLocations(ctx context.Context, query string) ([]models.LocationCandidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(SearchLimit))

	var results []geocodeResult
	if err := c.get(ctx, EndpointGeocode, geocodePath, params, &results); err != nil {
		return nil, err
	}

	out := make([]models.LocationCandidate, 0, len(results))
	for _, r := range results {
		out = append(out, models.LocationCandidate{
			Name:    r.Name,
			Lat:     r.Lat,
			Lon:     r.Lon,
			Country: r.Country,
			State:   r.State,
		})
	}
	return out, nil
}

// ReverseGeocode names the place at lat/lon using a weather lookup.
func (c *OpenWeatherClient) ReverseGeocode(ctx context.Context, lat, lon float64) (models.LocationCandidate, error) {
	w, err := c.FetchCurrentWeather(ctx, lat, lon)
	if err != nil {
		return models.LocationCandidate{}, err
	}
	return models.LocationCandidate{
		Name:    w.Name,
		Lat:     w.Coord.Lat,
		Lon:     w.Coord.Lon,
		Country: w.Sys.Country,
	}, nil
}

// ValidateAPIKey makes one weather call to check the configured key.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.FetchCurrentWeather(ctx, 51.5074, -0.1278)
	if errors.Is(err, ErrInvalidAPIKey) {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	return err
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	return params
}

func (c *OpenWeatherClient) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "openweather."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("openweather.endpoint", endpoint)),
	)
	defer span.End()

	call := func() error { return c.callAPI(ctx, endpoint, path, params, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		category := CategorizeError(err)
		observability.UpstreamErrorsTotal.WithLabelValues(string(category)).Inc()
		if c.tracker != nil {
			if errors.Is(err, circuitbreaker.ErrOpen) {
				c.tracker.RecordRejected()
			} else if !errors.Is(err, context.Canceled) {
				c.tracker.RecordFailure()
			}
		}
		observability.LoggerFromContext(ctx, c.logger).Warn("upstream call failed",
			zap.String("endpoint", endpoint),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return err
	}
	if c.tracker != nil {
		c.tracker.RecordSuccess()
	}
	return nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	start := time.Now()

	req, err := c.buildRequest(ctx, path, params)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := handleErrorResponse(endpoint, resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse turns a non-2xx response into an *APIError, using the
// provider's "message" field when the body carries one.
func handleErrorResponse(endpoint string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var providerErr struct {
		Message string `json:"message"`
	}
	msg := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &providerErr); err == nil && providerErr.Message != "" {
		msg = providerErr.Message
	}
	return &APIError{Endpoint: endpoint, Status: statusCode, Message: msg}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
