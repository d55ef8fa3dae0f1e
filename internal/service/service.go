// Package service implements the dashboard operations on top of the query
// orchestrator: AQI lookups, location search, reverse geocoding, location
// updates and current-location detection.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/client"
	"github.com/ashishkrishna888/Airlytics/internal/geolocation"
	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
	"github.com/ashishkrishna888/Airlytics/internal/query"
	"github.com/ashishkrishna888/Airlytics/internal/validation"
)

// Policies holds the cache and retry policy per query kind.
type Policies struct {
	AQI     query.Options
	Search  query.Options
	Reverse query.Options
}

// DefaultPolicies returns the dashboard defaults: AQI fresh for 5 minutes
// and refetched every 5 minutes while watched, 3 retries; search fresh for
// 10 minutes and reverse geocode for 30 minutes, 2 retries each.
func DefaultPolicies() Policies {
	return Policies{
		AQI: query.Options{
			StaleTime:       5 * time.Minute,
			RefetchInterval: 5 * time.Minute,
			Retry:           3,
		},
		Search: query.Options{
			StaleTime: 10 * time.Minute,
			Retry:     2,
		},
		Reverse: query.Options{
			StaleTime: 30 * time.Minute,
			Retry:     2,
		},
	}
}

// DashboardService orchestrates dashboard data retrieval. All upstream calls
// except UpdateLocation go through the query orchestrator.
type DashboardService struct {
	client   client.AirQualityClient
	queries  *query.Client
	detector *geolocation.Detector
	policies Policies
	fallback models.LocationCandidate
	logger   *zap.Logger
}

// NewDashboardService creates a DashboardService. fallback is the location
// reported when current-location detection fails.
func NewDashboardService(c client.AirQualityClient, queries *query.Client, detector *geolocation.Detector, policies Policies, fallback models.LocationCandidate, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		client:   c,
		queries:  queries,
		detector: detector,
		policies: policies,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *DashboardService) aqiQuery(lat, lon float64) query.Query[models.AirQuality] {
	return query.Query[models.AirQuality]{
		Key:     query.AQIKey(lat, lon),
		Options: s.policies.AQI,
		Enabled: validation.CoordinatesEnabled(lat, lon),
		Fetch: func(ctx context.Context) (models.AirQuality, error) {
			return s.client.FetchAQIData(ctx, lat, lon)
		},
	}
}

// AQI returns the air-quality view model for the coordinates, served from
// cache while fresh. Coordinates that are not numbers leave the query idle.
func (s *DashboardService) AQI(ctx context.Context, lat, lon float64) (query.Result[models.AirQuality], error) {
	res, err := query.Fetch(ctx, s.queries, s.aqiQuery(lat, lon))
	if err == nil && res.HasData {
		observability.RecordAQIQuery(res.Data.Location)
	}
	return res, err
}

// RefreshAQI refetches the coordinates regardless of freshness.
func (s *DashboardService) RefreshAQI(ctx context.Context, lat, lon float64) (query.Result[models.AirQuality], error) {
	observability.LoggerFromContext(ctx, s.logger).Debug("manual AQI refresh", zap.Float64("lat", lat), zap.Float64("lon", lon))
	res, err := query.Refetch(ctx, s.queries, s.aqiQuery(lat, lon))
	if err == nil && res.HasData {
		observability.RecordAQIQuery(res.Data.Location)
	}
	return res, err
}

// WatchAQI subscribes fn to the coordinates' AQI entry. While at least one
// watcher is registered the entry is refetched on the AQI refetch interval.
func (s *DashboardService) WatchAQI(lat, lon float64, fn func(query.Result[models.AirQuality])) (unsubscribe func()) {
	return query.Subscribe(s.queries, s.aqiQuery(lat, lon), fn)
}

// WarmAQI loads the coordinates into the cache. It fails only when no
// data could be obtained.
func (s *DashboardService) WarmAQI(ctx context.Context, lat, lon float64) error {
	res, err := query.Fetch(ctx, s.queries, s.aqiQuery(lat, lon))
	if err != nil {
		return err
	}
	if res.Err != nil && !res.HasData {
		return res.Err
	}
	return nil
}

// SearchLocations looks up candidate locations by name. Queries shorter
// than validation.MinQueryLen stay idle and return no candidates.
func (s *DashboardService) SearchLocations(ctx context.Context, q string) (query.Result[[]models.LocationCandidate], error) {
	trimmed := strings.TrimSpace(q)
	return query.Fetch(ctx, s.queries, query.Query[[]models.LocationCandidate]{
		Key:     query.LocationKey(trimmed),
		Options: s.policies.Search,
		// Gated on trimmed runes, not the raw byte length.
		Enabled: validation.SearchEnabled(trimmed),
		Fetch: func(ctx context.Context) ([]models.LocationCandidate, error) {
			return s.client.SearchLocations(ctx, trimmed)
		},
	})
}

// ReverseGeocode names the place at the coordinates.
func (s *DashboardService) ReverseGeocode(ctx context.Context, lat, lon float64) (query.Result[models.LocationCandidate], error) {
	return query.Fetch(ctx, s.queries, query.Query[models.LocationCandidate]{
		Key:     query.ReverseKey(lat, lon),
		Options: s.policies.Reverse,
		Enabled: validation.CoordinatesEnabled(lat, lon),
		Fetch: func(ctx context.Context) (models.LocationCandidate, error) {
			return s.client.ReverseGeocode(ctx, lat, lon)
		},
	})
}

// UpdateLocation fetches the coordinates directly, bypassing the cache, and
// on success overwrites their AQI entry so later reads see it immediately.
// Failures are logged and leave the existing entry untouched.
func (s *DashboardService) UpdateLocation(ctx context.Context, lat, lon float64) (models.AirQuality, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.AirQuality{}, err
	}
	data, err := s.client.FetchAQIData(ctx, lat, lon)
	if err != nil {
		logger.Warn("failed to update location",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return models.AirQuality{}, fmt.Errorf("update location: %w", err)
	}
	if err := query.SetData(ctx, s.queries, query.AQIKey(lat, lon), data); err != nil {
		logger.Warn("failed to store updated location", zap.String("location", data.Location), zap.Error(err))
	}
	observability.RecordAQIQuery(data.Location)
	return data, nil
}

// DetectLocation asks the detector for the current coordinates.
func (s *DashboardService) DetectLocation(ctx context.Context) (models.Coordinates, error) {
	if s.detector == nil {
		return models.Coordinates{}, geolocation.ErrUnsupported
	}
	pos, err := s.detector.CurrentPosition(ctx)
	if err != nil {
		return models.Coordinates{}, err
	}
	return pos.Coordinates, nil
}

// CurrentLocation is the outcome of current-location detection. When
// Fallback is set, Coordinates are the default location and Err holds the
// detection failure.
type CurrentLocation struct {
	Coordinates models.Coordinates
	Name        string
	Fallback    bool
	Message     string
	Err         error
}

// CurrentLocation detects the current coordinates, falling back to the
// default location on failure.
func (s *DashboardService) CurrentLocation(ctx context.Context) CurrentLocation {
	coords, err := s.DetectLocation(ctx)
	if err == nil {
		return CurrentLocation{Coordinates: coords}
	}
	observability.GeolocationTotal.WithLabelValues("fallback").Inc()
	observability.LoggerFromContext(ctx, s.logger).Info("current location unavailable, using default",
		zap.String("fallback", s.fallback.Name),
		zap.Error(err),
	)
	return CurrentLocation{
		Coordinates: models.Coordinates{Lat: s.fallback.Lat, Lon: s.fallback.Lon},
		Name:        s.fallback.Name,
		Fallback:    true,
		Message:     geolocation.FallbackMessage,
		Err:         err,
	}
}
