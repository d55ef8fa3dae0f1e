// Package traffic keeps sliding windows of OpenWeatherMap call outcomes so
// the health endpoint can report whether the upstream is degraded.
package traffic

import (
	"sync"
	"time"
)

const maxAge = 5 * time.Minute

// Health is the upstream status reported on /health.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthIdle     Health = "idle"
)

// Tracker maintains sliding windows of upstream outcome timestamps.
// A zero Tracker is ready to use.
type Tracker struct {
	mu           sync.Mutex
	now          func() time.Time
	successTimes []time.Time
	failureTimes []time.Time
	// rejectedTimes are calls refused locally by the open circuit.
	rejectedTimes []time.Time
}

// NewTracker returns a Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordSuccess records a successful upstream call.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordFailure records a failed upstream call (transport error, non-2xx, timeout).
func (t *Tracker) RecordFailure() {
	t.recordOutcome(&t.failureTimes)
}

// RecordRejected records a call refused by the circuit breaker.
func (t *Tracker) RecordRejected() {
	t.recordOutcome(&t.rejectedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// CallCount returns successes + failures + rejections within the window.
func (t *Tracker) CallCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.failureTimes, cutoff) +
		countInWindow(t.rejectedTimes, cutoff)
}

// FailureCount returns failures + rejections within the window.
func (t *Tracker) FailureCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	return countInWindow(t.failureTimes, cutoff) + countInWindow(t.rejectedTimes, cutoff)
}

// FailureRate returns (failures, total) within the window. Rejections are
// excluded; they say nothing new about the upstream.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	failures = countInWindow(t.failureTimes, cutoff)
	return failures, failures + countInWindow(t.successTimes, cutoff)
}

// Health reports degraded when at least minCalls were made in the window and
// the failure ratio reached threshold (0-1).
func (t *Tracker) Health(window time.Duration, threshold float64, minCalls int) Health {
	failures, total := t.FailureRate(window)
	if total == 0 {
		return HealthIdle
	}
	if total >= minCalls && float64(failures)/float64(total) >= threshold {
		return HealthDegraded
	}
	return HealthOK
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.failureTimes = nil
	t.rejectedTimes = nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.failureTimes)
	prune(&t.rejectedTimes)
}
