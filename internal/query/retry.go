package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/airquality"
	"github.com/ashishkrishna888/Airlytics/internal/circuitbreaker"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

// newBackOff returns the delay schedule for opts. Without a custom
// RetryDelay this is min(1s * 2^attempt, 30s) with no jitter.
func newBackOff(opts Options) backoff.BackOff {
	if opts.RetryDelay != nil {
		return &delayBackOff{delay: opts.RetryDelay}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     baseRetryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxRetryDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// delayBackOff adapts a func(attempt) delay to backoff.BackOff.
type delayBackOff struct {
	delay   func(attempt int) time.Duration
	attempt int
}

func (d *delayBackOff) NextBackOff() time.Duration {
	next := d.delay(d.attempt)
	d.attempt++
	return next
}

func (d *delayBackOff) Reset() { d.attempt = 0 }

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, airquality.ErrMissingPollution)
}

// fetchWithRetry calls fetch until it succeeds, the retry budget in opts is
// spent, or ctx ends. The last error is returned.
func (c *Client) fetchWithRetry(ctx context.Context, key string, opts Options, fetch fetchFunc) (json.RawMessage, error) {
	kind := kindOf(key)
	logger := observability.LoggerFromContext(ctx, c.logger)

	var raw json.RawMessage
	attempts := 0
	operation := func() error {
		attempts++
		data, err := fetch(ctx)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = data
		return nil
	}
	notify := func(err error, delay time.Duration) {
		observability.QueryRetriesTotal.WithLabelValues(kind).Inc()
		logger.Warn("query fetch failed, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(opts), uint64(max(opts.Retry, 0))), ctx)
	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, timer); err != nil {
		if attempts > 1 {
			logger.Warn("query fetch failed after retries",
				zap.String("key", key),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return raw, nil
}
