package httpserver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	connectBurst       = 10
	limiterIdleTimeout = 10 * time.Minute
	limiterSweepEvery  = 5 * time.Minute
)

// LimitReason describes why a websocket connection was refused.
type LimitReason string

const (
	LimitReasonPerIP LimitReason = "per_ip_limit"
	LimitReasonRate  LimitReason = "rate_limit"
)

// ipConnectionLimiter caps concurrent connections per client IP.
type ipConnectionLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func newIPConnectionLimiter(maxPer int) *ipConnectionLimiter {
	return &ipConnectionLimiter{ips: make(map[string]int), maxPer: maxPer}
}

func (l *ipConnectionLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipConnectionLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipConnectionLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// connectionRateLimiter is a token bucket per client IP for new connections.
type connectionRateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	rate     rate.Limit
	burst    int
	sweepAt  time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnectionRateLimiter(clock clockwork.Clock, perSecond float64, burst int) *connectionRateLimiter {
	return &connectionRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		sweepAt:  clock.Now().Add(limiterSweepEvery),
	}
}

func (l *connectionRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(limiterSweepEvery)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for limiterIdleTimeout. Must be called with mu held.
func (l *connectionRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-limiterIdleTimeout)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *connectionRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// connectionLimits guards the live feed per client. The instance-wide cap is
// enforced by the hub.
type connectionLimits struct {
	perIP *ipConnectionLimiter
	rate  *connectionRateLimiter
}

func newConnectionLimits(clock clockwork.Clock, perIPMax int, connectsPerSecond float64) *connectionLimits {
	return &connectionLimits{
		perIP: newIPConnectionLimiter(perIPMax),
		rate:  newConnectionRateLimiter(clock, connectsPerSecond, connectBurst),
	}
}

// acquire checks the rate first since it needs no release on failure.
func (l *connectionLimits) acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.perIP.acquire(ip) {
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *connectionLimits) release(ip string) {
	l.perIP.release(ip)
}
