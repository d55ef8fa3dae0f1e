package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

// AQIWarmer is implemented by the service layer to load AQI data for a
// location into the orchestrator's cache. Declared here so this package does
// not depend on service.
type AQIWarmer interface {
	WarmAQI(ctx context.Context, lat, lon float64) error
}

// CacheWarmer prefetches AQI data for configured locations so the first
// dashboard request for them is a cache hit.
type CacheWarmer struct {
	fetcher AQIWarmer
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher AQIWarmer, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every location concurrently. Returns the joined errors of the
// locations that failed.
func (w *CacheWarmer) Warm(ctx context.Context, locations []models.LocationCandidate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("locations", len(locations)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fetcher.WarmAQI(ctx, loc.Lat, loc.Lon); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc.Name, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("locations", len(locations)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, locations []models.LocationCandidate, interval time.Duration) error {
	if err := w.Warm(ctx, locations); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, locations); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
