package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// hostEntry tracks a single host's semaphore and politeness state.
type hostEntry struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	lastRequest time.Time // updated on every Leave; zero if never used
}

// HostGate bounds concurrent requests per host and spaces consecutive requests to the
// same host by a politeness delay. One gate is shared by every component that talks
// to remote hosts (probe, downloader, robots) so the limits hold globally.
type HostGate struct {
	entries        map[string]*hostEntry
	mu             sync.Mutex
	limit          int64
	delay          time.Duration
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// NewHostGate creates a gate with the given per-host concurrency limit and delay.
// acquireTimeout bounds how long Enter waits for a permit (0 = only ctx bounds it).
func NewHostGate(maxPerHost int, delay, acquireTimeout time.Duration, log *logrus.Entry) *HostGate {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostGate{
		entries:        make(map[string]*hostEntry),
		limit:          limit,
		delay:          delay,
		acquireTimeout: acquireTimeout,
		log:            log,
	}
}

// Enter acquires a permit for host and then waits out the politeness delay.
// Every successful Enter must be paired with Leave.
func (g *HostGate) Enter(ctx context.Context, host string) error {
	host = strings.ToLower(host)

	g.mu.Lock()
	entry, exists := g.entries[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(g.limit)}
		g.entries[host] = entry
		g.log.WithFields(logrus.Fields{"host": host, "limit": g.limit}).Debug("Created new host semaphore")
	}
	entry.activeCount++
	g.mu.Unlock()

	acquireCtx := ctx
	if g.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
		defer cancel()
	}
	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		g.mu.Lock()
		entry.activeCount--
		g.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: host %s after %v", utils.ErrSemaphoreTimeout, host, g.acquireTimeout)
	}

	if err := g.wait(ctx, host, entry); err != nil {
		g.mu.Lock()
		entry.activeCount--
		g.mu.Unlock()
		entry.sem.Release(1)
		return err
	}
	return nil
}

// wait sleeps until delay has passed since the last request to host, with +/- 10% jitter
func (g *HostGate) wait(ctx context.Context, host string, entry *hostEntry) error {
	if g.delay <= 0 {
		return nil
	}
	g.mu.Lock()
	last := entry.lastRequest
	g.mu.Unlock()
	if last.IsZero() {
		return nil
	}

	elapsed := time.Since(last)
	if elapsed >= g.delay {
		return nil
	}
	sleep := g.delay - elapsed
	if width := int64(sleep) / 5; width > 0 {
		sleep += time.Duration(rand.Int63n(width)) - sleep/10
	}
	if sleep <= 0 {
		return nil
	}

	g.log.WithFields(logrus.Fields{"host": host, "sleep": sleep, "required_delay": g.delay}).Debug("Politeness delay")
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave releases the permit taken by Enter and stamps the host's last request time.
func (g *HostGate) Leave(host string) {
	host = strings.ToLower(host)

	g.mu.Lock()
	entry, exists := g.entries[host]
	if !exists {
		g.mu.Unlock()
		g.log.Errorf("hostgate: Leave called for unknown host: %s", host)
		return
	}
	entry.activeCount--
	entry.lastRequest = time.Now()
	g.mu.Unlock()

	entry.sem.Release(1)
}

// RunEviction periodically removes idle host entries. Should be run in a goroutine.
func (g *HostGate) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evictIdle(interval)
		case <-ctx.Done():
			g.log.Debugf("Stopping host gate eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries idle for longer than maxIdle. An entry is never evicted
// before its politeness delay has elapsed.
func (g *HostGate) evictIdle(maxIdle time.Duration) {
	if maxIdle < g.delay {
		maxIdle = g.delay
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, entry := range g.entries {
		if entry.activeCount == 0 && !entry.lastRequest.IsZero() && now.Sub(entry.lastRequest) >= maxIdle {
			delete(g.entries, host)
			evicted++
		}
	}
	if evicted > 0 {
		g.log.Debugf("Evicted %d idle hosts, %d remain", evicted, len(g.entries))
	}
}

// Len returns the current number of tracked hosts.
func (g *HostGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
