// Package query orchestrates keyed lookups against the upstream provider:
// it caches results with per-query staleness, coalesces concurrent fetches,
// retries with exponential backoff and notifies subscribed observers.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/cache"
	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("query client closed")

const defaultRetention = time.Hour

var tracer = otel.Tracer("github.com/ashishkrishna888/Airlytics/internal/query")

// Status is the lifecycle state of a key.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusFresh    Status = "fresh"
	StatusStale    Status = "stale"
	StatusError    Status = "error"
)

// Result is a snapshot of a key. When Status is StatusError, Data still
// holds the last successful value if HasData is set.
type Result[T any] struct {
	Data      T
	HasData   bool
	Status    Status
	Err       error
	FetchedAt time.Time
	Stale     bool
}

type fetchFunc func(ctx context.Context) (json.RawMessage, error)

// keyState is the per-key bookkeeping that does not live in the store.
type keyState struct {
	err       error
	observers map[uint64]func()
	cancelSub context.CancelFunc
}

// Client is the orchestrator. Create one per process with New and Close it
// on shutdown.
type Client struct {
	store     cache.Cache
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
	newTimer  func() backoff.Timer
	coalescer *fetchCoalescer

	mu           sync.Mutex
	states       map[string]*keyState
	nextObserver uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithRetention sets how long entries are kept in the store. Entries past
// their stale time are still served while a refetch runs, so retention
// should exceed the longest StaleTime. Default 1h.
func WithRetention(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetryTimer replaces the timer used between retries.
func WithRetryTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// New creates a Client backed by store.
func New(store cache.Cache, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		store:     store,
		logger:    logger,
		retention: defaultRetention,
		now:       time.Now,
		states:    make(map[string]*keyState),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.coalescer = newFetchCoalescer(c.spawn)
	return c
}

func (c *Client) spawn(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

// Close stops periodic refetches and waits for running fetches to finish.
// Fetches still retrying are cancelled.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Clear removes every entry and recorded error. Observers stay subscribed.
func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()
	for key, st := range c.states {
		st.err = nil
		c.pruneLocked(key)
	}
	c.mu.Unlock()
	if err := c.store.Clear(ctx, ""); err != nil {
		return fmt.Errorf("clear query cache: %w", err)
	}
	return nil
}

// Fetch returns the cached result for q, fetching when needed:
// a disabled query is idle, a fresh entry is returned as is, a stale entry
// is returned while a background refetch runs, and a missing entry is
// fetched (joining any fetch already in flight). Fetch failures are reported
// in Result.Err; the returned error is only set when ctx ends first or the
// client is closed.
func Fetch[T any](ctx context.Context, c *Client, q Query[T]) (Result[T], error) {
	kind := kindOf(q.Key)
	if !q.Enabled {
		observability.QueryRequestsTotal.WithLabelValues(kind, "idle").Inc()
		return Result[T]{Status: StatusIdle}, nil
	}
	if c.ctx.Err() != nil {
		return Result[T]{}, ErrClosed
	}

	res, err := snapshot[T](ctx, c, q.Key, q.Options)
	if err != nil {
		return res, err
	}
	if res.HasData {
		if !res.Stale {
			observability.QueryRequestsTotal.WithLabelValues(kind, "hit").Inc()
			return res, nil
		}
		observability.QueryRequestsTotal.WithLabelValues(kind, "stale").Inc()
		c.revalidate(ctx, q.Key, q.Options, erase(q))
		return res, nil
	}

	return wait[T](ctx, c, q, "miss")
}

// Refetch fetches q regardless of freshness and waits for the outcome.
func Refetch[T any](ctx context.Context, c *Client, q Query[T]) (Result[T], error) {
	if !q.Enabled {
		observability.QueryRequestsTotal.WithLabelValues(kindOf(q.Key), "idle").Inc()
		return Result[T]{Status: StatusIdle}, nil
	}
	if c.ctx.Err() != nil {
		return Result[T]{}, ErrClosed
	}
	return wait[T](ctx, c, q, "refetch")
}

func wait[T any](ctx context.Context, c *Client, q Query[T], outcome string) (Result[T], error) {
	kind := kindOf(q.Key)
	out, joined, err := c.coalescer.GetOrDo(ctx, q.Key, c.newTask(ctx, q.Key, q.Options, erase(q)))
	if joined {
		outcome = "coalesced"
	}
	observability.QueryRequestsTotal.WithLabelValues(kind, outcome).Inc()
	if err != nil {
		return Result[T]{Status: StatusFetching}, err
	}
	if out.err != nil {
		res, snapErr := snapshot[T](ctx, c, q.Key, q.Options)
		if snapErr != nil {
			res = Result[T]{}
		}
		res.Status = StatusError
		res.Err = out.err
		return res, nil
	}
	var data T
	if err := json.Unmarshal(out.entry.Data, &data); err != nil {
		return Result[T]{}, fmt.Errorf("decode %s: %w", q.Key, err)
	}
	return Result[T]{
		Data:      data,
		HasData:   true,
		Status:    StatusFresh,
		FetchedAt: out.entry.FetchedAt,
	}, nil
}

// Peek returns the current snapshot for q without fetching.
func Peek[T any](ctx context.Context, c *Client, q Query[T]) (Result[T], error) {
	return snapshot[T](ctx, c, q.Key, q.Options)
}

// SetData writes data for key as if it had just been fetched. Any recorded
// error is cleared and observers are notified.
func SetData[T any](ctx context.Context, c *Client, key string, data T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, cache.Entry{Data: raw, FetchedAt: c.now()}, c.retention); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	c.mu.Lock()
	if st, ok := c.states[key]; ok {
		st.err = nil
		c.pruneLocked(key)
	}
	c.mu.Unlock()
	c.notify(key)
	return nil
}

func erase[T any](q Query[T]) fetchFunc {
	return func(ctx context.Context) (json.RawMessage, error) {
		v, err := q.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

func snapshot[T any](ctx context.Context, c *Client, key string, opts Options) (Result[T], error) {
	var res Result[T]
	entry, ok := c.load(ctx, key)
	if ok {
		if err := json.Unmarshal(entry.Data, &res.Data); err != nil {
			return Result[T]{}, fmt.Errorf("decode %s: %w", key, err)
		}
		res.HasData = true
		res.FetchedAt = entry.FetchedAt
		res.Stale = c.now().Sub(entry.FetchedAt) >= opts.StaleTime
	}

	c.mu.Lock()
	if st, found := c.states[key]; found {
		res.Err = st.err
	}
	c.mu.Unlock()

	switch {
	case c.coalescer.pending(key):
		res.Status = StatusFetching
	case res.Err != nil:
		res.Status = StatusError
	case res.HasData && res.Stale:
		res.Status = StatusStale
	case res.HasData:
		res.Status = StatusFresh
	default:
		res.Status = StatusIdle
	}
	return res, nil
}

// load reads key from the store. Store failures are logged and read as a miss.
func (c *Client) load(ctx context.Context, key string) (cache.Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observability.LoggerFromContext(ctx, c.logger).Warn("query store get failed", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	}
	return entry, ok
}

// revalidate refetches key in the background. The client itself is the
// waiter, so the outcome is kept unless the client closes first.
func (c *Client) revalidate(ctx context.Context, key string, opts Options, fetch fetchFunc) {
	task := c.newTask(ctx, key, opts, fetch)
	c.spawn(func() {
		_, _, _ = c.coalescer.GetOrDo(c.ctx, key, task)
	})
}

// fetchTask implementation bound to one key.
type task struct {
	c      *Client
	parent context.Context
	key    string
	opts   Options
	fetch  fetchFunc
}

func (c *Client) newTask(parent context.Context, key string, opts Options, fetch fetchFunc) *task {
	return &task{c: c, parent: parent, key: key, opts: opts, fetch: fetch}
}

// run fetches detached from the starting caller: values such as the
// correlation ID carry over, cancellation comes only from Close.
func (t *task) run() fetchOutcome {
	c := t.c
	ctx, cancel := context.WithCancel(context.WithoutCancel(t.parent))
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	ctx, span := tracer.Start(ctx, "query.fetch", trace.WithAttributes(
		attribute.String("query.key", t.key),
		attribute.String("query.kind", kindOf(t.key)),
	))
	defer span.End()

	c.notify(t.key)
	raw, err := c.fetchWithRetry(ctx, t.key, t.opts, t.fetch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fetchOutcome{err: err}
	}
	return fetchOutcome{entry: cache.Entry{Data: raw, FetchedAt: c.now()}}
}

func (t *task) complete(out fetchOutcome, keep bool) {
	c := t.c
	logger := observability.LoggerFromContext(t.parent, c.logger)
	if !keep {
		observability.QueryDiscardedTotal.WithLabelValues(kindOf(t.key)).Inc()
		logger.Debug("query fetch discarded, no waiters", zap.String("key", t.key), zap.Bool("failed", out.err != nil))
		return
	}

	if out.err == nil {
		// Detached from the caller so a departing request cannot abort the write.
		if err := c.store.Set(context.WithoutCancel(t.parent), t.key, out.entry, c.retention); err != nil {
			logger.Warn("query store set failed", zap.String("key", t.key), zap.Error(err))
		}
	}

	c.mu.Lock()
	if out.err != nil {
		c.stateLocked(t.key).err = out.err
	} else if st, ok := c.states[t.key]; ok {
		st.err = nil
		c.pruneLocked(t.key)
	}
	c.mu.Unlock()
}

// settled tells observers the key is no longer fetching.
func (t *task) settled() {
	t.c.notify(t.key)
}

// stateLocked returns the state for key, creating it. c.mu must be held.
func (c *Client) stateLocked(key string) *keyState {
	st, ok := c.states[key]
	if !ok {
		st = &keyState{observers: make(map[uint64]func())}
		c.states[key] = st
	}
	return st
}

// pruneLocked drops state that carries nothing. c.mu must be held.
func (c *Client) pruneLocked(key string) {
	if st, ok := c.states[key]; ok && st.err == nil && len(st.observers) == 0 {
		delete(c.states, key)
	}
}

// notify calls every observer of key outside the lock.
func (c *Client) notify(key string) {
	c.mu.Lock()
	st, ok := c.states[key]
	if !ok || len(st.observers) == 0 {
		c.mu.Unlock()
		return
	}
	observers := make([]func(), 0, len(st.observers))
	for _, fn := range st.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}
