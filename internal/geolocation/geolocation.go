// Package geolocation resolves the caller's current coordinates with a
// bounded wait and reuse of a recent fix.
package geolocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashishkrishna888/Airlytics/internal/models"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

var (
	ErrUnsupported         = errors.New("geolocation is not supported")
	ErrPermissionDenied    = errors.New("user denied geolocation")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("timeout expired")
)

// FallbackMessage is shown when detection fails and the default location is used.
const FallbackMessage = "Unable to get your current location. Please search for a location manually."

// DefaultLocation is used when the current location cannot be detected.
var DefaultLocation = models.LocationCandidate{
	Name:    "San Francisco",
	Lat:     37.7749,
	Lon:     -122.4194,
	Country: "US",
}

// Position is a resolved location fix.
type Position struct {
	Coordinates models.Coordinates
	Timestamp   time.Time
	Source      string
}

// Locator produces a position fix. Implementations should honour ctx.
type Locator interface {
	Locate(ctx context.Context, highAccuracy bool) (Position, error)
}

// Options mirrors the platform geolocation request options.
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// DefaultOptions: high accuracy, 10s timeout, fixes up to 5 minutes old reused.
func DefaultOptions() Options {
	return Options{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         5 * time.Minute,
	}
}

// Detector answers current-location requests from a Locator.
type Detector struct {
	locator Locator
	opts    Options
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	last *Position
}

// NewDetector creates a Detector. A nil locator makes every request fail
// with ErrUnsupported.
func NewDetector(locator Locator, opts Options) *Detector {
	return &Detector{
		locator: locator,
		opts:    opts,
		now:     time.Now,
		after:   time.After,
	}
}

// CurrentPosition returns a fix no older than MaximumAge, asking the
// locator when there is none. Locator failures and timeouts are wrapped as
// "Geolocation error: ...". A locator call that outlives the timeout keeps
// running; its result is dropped.
func (d *Detector) CurrentPosition(ctx context.Context) (Position, error) {
	if d.locator == nil {
		observability.GeolocationTotal.WithLabelValues("unsupported").Inc()
		return Position{}, ErrUnsupported
	}

	d.mu.Lock()
	if d.last != nil && d.opts.MaximumAge > 0 && d.now().Sub(d.last.Timestamp) <= d.opts.MaximumAge {
		pos := *d.last
		d.mu.Unlock()
		observability.GeolocationTotal.WithLabelValues("cached").Inc()
		return pos, nil
	}
	d.mu.Unlock()

	type fix struct {
		pos Position
		err error
	}
	done := make(chan fix, 1)
	go func() {
		pos, err := d.locator.Locate(ctx, d.opts.EnableHighAccuracy)
		done <- fix{pos, err}
	}()

	var timeout <-chan time.Time
	if d.opts.Timeout > 0 {
		timeout = d.after(d.opts.Timeout)
	}

	select {
	case f := <-done:
		if f.err != nil {
			observability.GeolocationTotal.WithLabelValues("failed").Inc()
			return Position{}, fmt.Errorf("Geolocation error: %w", f.err)
		}
		if f.pos.Timestamp.IsZero() {
			f.pos.Timestamp = d.now()
		}
		d.mu.Lock()
		d.last = &f.pos
		d.mu.Unlock()
		observability.GeolocationTotal.WithLabelValues("detected").Inc()
		return f.pos, nil
	case <-timeout:
		observability.GeolocationTotal.WithLabelValues("timeout").Inc()
		return Position{}, fmt.Errorf("Geolocation error: %w", ErrTimeout)
	case <-ctx.Done():
		return Position{}, ctx.Err()
	}
}

// StaticLocator always returns the same fix or error.
type StaticLocator struct {
	Coordinates models.Coordinates
	Err         error
}

func (s StaticLocator) Locate(ctx context.Context, highAccuracy bool) (Position, error) {
	if s.Err != nil {
		return Position{}, s.Err
	}
	return Position{Coordinates: s.Coordinates, Source: "static"}, nil
}
