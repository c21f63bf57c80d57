package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings configures token-bucket style rate limiting per host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// DomainLimiter spaces requests to the same host by a fixed delay, with an
// optional token bucket layered on top.
type DomainLimiter struct {
	delay       time.Duration
	rate        RateLimiterSettings
	rateEnabled bool

	mu        sync.Mutex
	overrides map[string]time.Duration
	last      map[string]time.Time
	limiters  map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter with a default per-host delay and optional rate limiting.
func NewDomainLimiter(delay time.Duration, rateCfg RateLimiterSettings) *DomainLimiter {
	limiter := &DomainLimiter{
		delay:     delay,
		overrides: make(map[string]time.Duration),
		last:      make(map[string]time.Time),
	}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		limiter.rateEnabled = true
		limiter.rate = rateCfg
		limiter.limiters = make(map[string]*rate.Limiter)
	}
	return limiter
}

// SetHostDelay overrides the fixed delay for one host. A zero delay restores the default.
func (d *DomainLimiter) SetHostDelay(host string, delay time.Duration) {
	if d == nil || host == "" {
		return
	}
	host = strings.ToLower(host)
	d.mu.Lock()
	defer d.mu.Unlock()
	if delay <= 0 {
		delete(d.overrides, host)
		return
	}
	d.overrides[host] = delay
}

// Wait blocks until politeness constraints for the host are satisfied.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter
	now := time.Now()

	d.mu.Lock()
	delay := d.delay
	if override, ok := d.overrides[host]; ok {
		delay = override
	}
	if delay > 0 {
		if last, ok := d.last[host]; ok {
			if rest := last.Add(delay).Sub(now); rest > 0 {
				sleep = rest
			}
		}
	}
	if d.rateEnabled {
		limiter = d.ensureLimiterLocked(host)
	}
	d.mu.Unlock()

	if sleep > 0 {
		if err := sleepContext(ctx, sleep); err != nil {
			return err
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.last[host] = time.Now()
	d.mu.Unlock()
	return nil
}

func (d *DomainLimiter) ensureLimiterLocked(host string) *rate.Limiter {
	limiter, ok := d.limiters[host]
	if ok {
		return limiter
	}
	interval := d.rate.Window / time.Duration(d.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), d.rate.Requests)
	d.limiters[host] = limiter
	return limiter
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
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

// Pause is the exported form of sleepContext for callers that need a polite gap.
func Pause(ctx context.Context, d time.Duration) error {
	return sleepContext(ctx, d)
}
