package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ashishkrishna888/Airlytics/internal/observability"
)

// Subscribe registers fn as an observer of q.Key. fn receives a fresh
// snapshot whenever a fetch for the key starts or completes and after
// SetData. An enabled query with a RefetchInterval starts a periodic
// refetch unless one is running; it stops when the last observer leaves, and a
// refetch still running then is discarded. The returned func unsubscribes
// and is safe to call more than once.
func Subscribe[T any](c *Client, q Query[T], fn func(Result[T])) (unsubscribe func()) {
	kind := kindOf(q.Key)
	observer := func() {
		res, err := Peek(context.Background(), c, q)
		if err != nil {
			c.logger.Warn("query observer snapshot failed", zap.String("key", q.Key), zap.Error(err))
			return
		}
		fn(res)
	}

	c.mu.Lock()
	st := c.stateLocked(q.Key)
	id := c.nextObserver
	c.nextObserver++
	st.observers[id] = observer
	if st.cancelSub == nil && q.Enabled && q.Options.RefetchInterval > 0 {
		subCtx, cancel := context.WithCancel(c.ctx)
		st.cancelSub = cancel
		fetch := erase(q)
		c.spawn(func() { c.refetchEvery(subCtx, q.Key, q.Options, fetch) })
	}
	c.mu.Unlock()
	observability.QueryObservers.WithLabelValues(kind).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if st, ok := c.states[q.Key]; ok {
				delete(st.observers, id)
				if len(st.observers) == 0 {
					if st.cancelSub != nil {
						st.cancelSub()
						st.cancelSub = nil
					}
					c.pruneLocked(q.Key)
				}
			}
			c.mu.Unlock()
			observability.QueryObservers.WithLabelValues(kind).Dec()
		})
	}
}

// Observers returns the number of observers subscribed to key.
func (c *Client) Observers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[key]; ok {
		return len(st.observers)
	}
	return 0
}

// refetchEvery refetches key every interval until ctx ends. Each refetch
// waits with ctx, so its outcome is discarded once the subscription goes.
// Ticks that arrive while a refetch runs are dropped.
func (c *Client) refetchEvery(ctx context.Context, key string, opts Options, fetch fetchFunc) {
	ticker := time.NewTicker(opts.RefetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.QueryRequestsTotal.WithLabelValues(kindOf(key), "interval").Inc()
			_, _, _ = c.coalescer.GetOrDo(ctx, key, c.newTask(ctx, key, opts, fetch))
		}
	}
}
