package query

import (
	"context"
	"sync"

	"github.com/ashishkrishna888/Airlytics/internal/cache"
)

// fetchOutcome is the result of one upstream fetch, retries included.
type fetchOutcome struct {
	entry cache.Entry
	err   error
}

// fetchTask is the work behind an in-flight fetch. complete runs once,
// after run and while the fetch is still registered, with keep reporting
// whether any caller was still waiting. settled runs after the fetch is
// unregistered and its waiters released.
type fetchTask interface {
	run() fetchOutcome
	complete(outcome fetchOutcome, keep bool)
	settled()
}

// inFlightFetch tracks a single upstream fetch that multiple callers may wait for.
type inFlightFetch struct {
	done     chan struct{}
	outcome  fetchOutcome
	waiters  int  // guarded by fetchCoalescer.mu
	finished bool // guarded by fetchCoalescer.mu
}

// fetchCoalescer keeps at most one fetch in flight per key. Callers attach
// to the outstanding fetch instead of starting another.
type fetchCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	spawn    func(func())
}

func newFetchCoalescer(spawn func(func())) *fetchCoalescer {
	if spawn == nil {
		spawn = func(f func()) { go f() }
	}
	return &fetchCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		spawn:    spawn,
	}
}

// GetOrDo waits for the in-flight fetch for key, starting task if there is
// none. joined reports whether the caller attached to an existing fetch.
// The fetch is not tied to ctx: when ctx ends the caller stops waiting and
// returns ctx.Err(), and if no caller is left the outcome is discarded.
func (fc *fetchCoalescer) GetOrDo(ctx context.Context, key string, task fetchTask) (outcome fetchOutcome, joined bool, err error) {
	fc.mu.Lock()
	req, joined := fc.inFlight[key]
	if !joined {
		req = &inFlightFetch{done: make(chan struct{})}
		fc.inFlight[key] = req
	}
	req.waiters++
	fc.mu.Unlock()

	if !joined {
		fc.spawn(func() { fc.run(key, req, task) })
	}

	select {
	case <-req.done:
		return req.outcome, joined, nil
	case <-ctx.Done():
		fc.mu.Lock()
		if !req.finished {
			req.waiters--
		}
		fc.mu.Unlock()
		return fetchOutcome{}, joined, ctx.Err()
	}
}

func (fc *fetchCoalescer) run(key string, req *inFlightFetch, task fetchTask) {
	outcome := task.run()

	fc.mu.Lock()
	req.finished = true
	keep := req.waiters > 0
	fc.mu.Unlock()

	// The key stays registered until the outcome is stored, so callers
	// arriving meanwhile join this fetch instead of missing the store.
	task.complete(outcome, keep)
	req.outcome = outcome

	fc.mu.Lock()
	delete(fc.inFlight, key)
	fc.mu.Unlock()
	close(req.done)
	task.settled()
}

// pending reports whether a fetch for key is in flight.
func (fc *fetchCoalescer) pending(key string) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.inFlight[key]
	return ok
}
