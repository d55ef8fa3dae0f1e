package query

import (
	"context"
	"time"
)

// Options is the per-query cache and retry policy.
type Options struct {
	// StaleTime is how long fetched data counts as fresh.
	StaleTime time.Duration
	// RefetchInterval, when positive, refetches the key periodically while
	// at least one observer is subscribed.
	RefetchInterval time.Duration
	// Retry is the number of retries after the initial attempt.
	Retry int
	// RetryDelay overrides the default exponential delay. attempt starts at 0.
	RetryDelay func(attempt int) time.Duration
}

// Query describes one keyed lookup. A query that is not Enabled is never
// fetched and reports StatusIdle.
type Query[T any] struct {
	Key     string
	Options Options
	Enabled bool
	Fetch   func(ctx context.Context) (T, error)
}

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// ExponentialDelay returns min(1s * 2^attempt, 30s).
func ExponentialDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxRetryDelay
	}
	return min(baseRetryDelay<<attempt, maxRetryDelay)
}
