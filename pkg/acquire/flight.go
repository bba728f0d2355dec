package acquire

import (
	"context"
	"sync"

	"github.com/Sriram-PR/bookfetch/pkg/models"
)

// flight is one running acquisition shared by every caller for its key
type flight struct {
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{}
	outcome models.Outcome // set before done is closed
	waiters int            // guarded by flightGroup.mu
}

// flightGroup deduplicates concurrent acquisitions per cache key. A flight
// runs on its own context, cancelled once its last waiter leaves or on cancel.
// A flight stays registered until fn returns, so at most one attempt works
// on a key's cache slot at a time.
type flightGroup struct {
	mu      sync.Mutex
	flights map[models.CacheKey]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[models.CacheKey]*flight)}
}

// join attaches the caller to the running flight for key, or starts fn in a
// new one. If the registered flight was cancelled but fn has not returned
// yet, join waits for it first. It fails only when ctx ends while waiting.
func (g *flightGroup) join(ctx context.Context, key models.CacheKey, fn func(ctx context.Context) models.Outcome) (*flight, error) {
	g.mu.Lock()
	for {
		old, ok := g.flights[key]
		if !ok {
			break
		}
		if old.ctx.Err() == nil {
			old.waiters++
			g.mu.Unlock()
			return old, nil
		}
		g.mu.Unlock()
		select {
		case <-old.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		g.mu.Lock()
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &flight{ctx: fctx, cancel: cancel, done: make(chan struct{}), waiters: 1}
	g.flights[key] = f
	g.mu.Unlock()

	go func() {
		f.outcome = fn(fctx)
		cancel()

		g.mu.Lock()
		if g.flights[key] == f {
			delete(g.flights, key)
		}
		g.mu.Unlock()
		close(f.done)
	}()
	return f, nil
}

// leave detaches one caller; the last one out cancels the flight
func (g *flightGroup) leave(f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.waiters--
	if f.waiters <= 0 {
		f.cancel()
	}
}

// cancel stops the running flight for key. It reports false when there is
// none or it was already cancelled.
func (g *flightGroup) cancel(key models.CacheKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.flights[key]
	if !ok || f.ctx.Err() != nil {
		return false
	}
	f.cancel()
	return true
}
