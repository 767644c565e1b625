package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
)

// RateLimiter manages request timing per host for politeness.
// Besides the minimum spacing between requests it keeps a per-host "not before" time that a
// Politeness pause pushes forward, so every worker talking to that host waits it out.
type RateLimiter struct {
	hostLastRequest map[string]time.Time // hostname -> last request attempt time
	hostNotBefore   map[string]time.Time // hostname -> earliest time of the next request
	mu              sync.Mutex
	defaultDelay    time.Duration
	log             *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		hostNotBefore:   make(map[string]time.Time),
		defaultDelay:    defaultDelay,
		log:             log,
	}
}

// ApplyDelay sleeps until the host's pause (if any) is over and at least minDelay has passed since
// the last request to it. Jitter of +/- 10% desynchronizes workers. Returns ctx.Err() if cancelled.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}

	rl.mu.Lock()
	lastReqTime, exists := rl.hostLastRequest[host]
	notBefore := rl.hostNotBefore[host]
	rl.mu.Unlock()

	now := time.Now()
	var sleepDuration time.Duration
	if exists && minDelay > 0 {
		if elapsed := now.Sub(lastReqTime); elapsed < minDelay {
			sleepDuration = minDelay - elapsed
			if jitterRange := int64(sleepDuration) / 5; jitterRange > 0 {
				sleepDuration += time.Duration(rand.Int63n(jitterRange)) - (sleepDuration / 10)
			}
		}
	}
	if wait := notBefore.Sub(now); wait > sleepDuration {
		sleepDuration = wait
	}
	if sleepDuration <= 0 {
		return ctx.Err()
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": sleepDuration, "required_delay": minDelay,
	}).Debug("Rate limit applying sleep")
	return sleepCtx(ctx, sleepDuration)
}

// UpdateLastRequestTime records the current time as the last request attempt time for the host
// Call this *after* an HTTP request attempt to the host
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.mu.Unlock()
}

// Defer pushes the host's next allowed request time to at least now+d and returns that time.
func (rl *RateLimiter) Defer(host string, d time.Duration) time.Time {
	until := time.Now().Add(d)
	rl.mu.Lock()
	if until.After(rl.hostNotBefore[host]) {
		rl.hostNotBefore[host] = until
	} else {
		until = rl.hostNotBefore[host]
	}
	rl.mu.Unlock()
	return until
}

// NotBefore returns the host's earliest next request time; zero if no pause was ever taken.
func (rl *RateLimiter) NotBefore(host string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.hostNotBefore[host]
}

// DelayFunc decides how long to pause after a walked date. Zero means no pause.
type DelayFunc func() time.Duration

// NoDelay never pauses.
func NoDelay() time.Duration { return 0 }

// RandomDateDelay pauses for roughly one in oneIn dates, for a uniform duration in [minDelay, maxDelay].
func RandomDateDelay(oneIn int, minDelay, maxDelay time.Duration) DelayFunc {
	if oneIn <= 0 || maxDelay <= 0 {
		return NoDelay
	}
	if minDelay > maxDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		if rng.Intn(oneIn) != 0 {
			return 0
		}
		return minDelay + time.Duration(rng.Int63n(int64(maxDelay-minDelay)+1))
	}
}

// DelayFromConfig builds the DelayFunc described by the politeness config.
func DelayFromConfig(cfg config.PolitenessConfig) DelayFunc {
	if cfg.Disabled {
		return NoDelay
	}
	return RandomDateDelay(cfg.OneIn, cfg.MinDelay, cfg.MaxDelay)
}

// Politeness applies the between-dates pause. One instance is shared by every walker that talks
// to the same hosts, so a pause taken by one worker holds back the others too.
type Politeness struct {
	limiter *RateLimiter
	delay   DelayFunc
	log     *logrus.Entry
}

// NewPoliteness creates a Politeness. A nil delay means NoDelay.
func NewPoliteness(limiter *RateLimiter, delay DelayFunc, log *logrus.Entry) *Politeness {
	if delay == nil {
		delay = NoDelay
	}
	return &Politeness{limiter: limiter, delay: delay, log: log}
}

// Pause draws a delay and, if non-zero, blocks the host for that long. It returns early with
// ctx.Err() on cancellation.
func (p *Politeness) Pause(ctx context.Context, host string) error {
	d := p.delay()
	if d <= 0 {
		return ctx.Err()
	}
	until := time.Now().Add(d)
	if p.limiter != nil {
		until = p.limiter.Defer(host, d)
	}
	p.log.WithFields(logrus.Fields{"host": host, "pause": d}).Debug("Politeness pause")
	return sleepCtx(ctx, time.Until(until))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
