package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// portalSlots is the request budget of one portal host.
type portalSlots struct {
	sem      *semaphore.Weighted
	held     int
	waiting  int
	idleFrom time.Time // set when held and waiting both drop to zero
}

func (s *portalSlots) idle() bool {
	return s.held == 0 && s.waiting == 0
}

// HostLoad is a snapshot of one host's slots.
type HostLoad struct {
	Held    int
	Waiting int
}

// HostSemaphorePool bounds concurrent requests to each portal host. One pool is shared by
// listing fetches, case fetches and attachment downloads of every portal and date worker,
// so parallel dates never multiply the load on a municipal server.
type HostSemaphorePool struct {
	mu      sync.Mutex
	hosts   map[string]*portalSlots
	limit   int64
	timeout time.Duration // longest wait for a slot; zero waits until ctx is done
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost requests in flight per host.
// Acquire gives up after acquireTimeout.
func NewHostSemaphorePool(maxPerHost int, acquireTimeout time.Duration, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		hosts:   make(map[string]*portalSlots),
		limit:   limit,
		timeout: acquireTimeout,
		log:     log,
	}
}

// Acquire takes a slot for host and returns the function that gives it back.
// The release function is safe to call more than once.
// A wait longer than the acquire timeout fails with utils.ErrSemaphoreTimeout;
// cancellation of ctx itself is returned as ctx.Err().
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (func(), error) {
	p.mu.Lock()
	slots, ok := p.hosts[host]
	if !ok {
		slots = &portalSlots{sem: semaphore.NewWeighted(p.limit)}
		p.hosts[host] = slots
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Portal host slots created")
	}
	slots.waiting++
	p.mu.Unlock()

	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := slots.sem.Acquire(waitCtx, 1)

	p.mu.Lock()
	slots.waiting--
	if err == nil {
		slots.held++
	} else if slots.idle() {
		slots.idleFrom = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: host %s busy for %v", utils.ErrSemaphoreTimeout, host, p.timeout)
		}
		return nil, fmt.Errorf("%w: host %s: %w", utils.ErrSemaphoreTimeout, host, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.release(host, slots) })
	}, nil
}

func (p *HostSemaphorePool) release(host string, slots *portalSlots) {
	p.mu.Lock()
	slots.held--
	if slots.idle() {
		slots.idleFrom = time.Now()
	}
	p.mu.Unlock()

	slots.sem.Release(1)
	p.log.WithField("host", host).Trace("Portal host slot released")
}

// Load reports how many slots of host are held and how many callers wait for one.
func (p *HostSemaphorePool) Load(host string) HostLoad {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slots, ok := p.hosts[host]; ok {
		return HostLoad{Held: slots.held, Waiting: slots.waiting}
	}
	return HostLoad{}
}

// Hosts returns the number of hosts currently tracked.
func (p *HostSemaphorePool) Hosts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// RunEviction drops hosts that stayed idle for a full interval until ctx is done.
// Run it in its own goroutine.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.evictIdle(interval, now)
		case <-ctx.Done():
			p.log.Debugf("Portal host eviction stopped: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes hosts idle since before now-maxIdle and returns how many went.
// A host that is waiting for the first slot or has one held is never removed.
func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for host, slots := range p.hosts {
		if !slots.idle() || slots.idleFrom.IsZero() || now.Sub(slots.idleFrom) < maxIdle {
			continue
		}
		delete(p.hosts, host)
		evicted++
	}
	if evicted > 0 {
		p.log.Debugf("Dropped %d idle portal hosts, %d remain", evicted, len(p.hosts))
	}
	return evicted
}
