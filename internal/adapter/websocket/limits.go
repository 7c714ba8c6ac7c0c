package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 10 * time.Minute
)

// GlobalLimiter caps concurrent connections on this instance.
type GlobalLimiter struct {
	current atomic.Int64
	max     int64
}

func NewGlobalLimiter(max int64) *GlobalLimiter {
	return &GlobalLimiter{max: max}
}

// Acquire takes a slot. It returns false at capacity.
func (l *GlobalLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *GlobalLimiter) Release() {
	l.current.Add(-1)
}

func (l *GlobalLimiter) Current() int64 { return l.current.Load() }
func (l *GlobalLimiter) Max() int64     { return l.max }

// IPLimiter caps concurrent connections per client IP.
type IPLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func NewIPLimiter(maxPer int) *IPLimiter {
	return &IPLimiter{ips: make(map[string]int), maxPer: maxPer}
}

func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *IPLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

func (l *IPLimiter) UniqueIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// RateLimiter limits how fast one IP may open connections (token bucket).
// Buckets idle for longer than ten minutes are dropped.
type RateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		limiters:  make(map[string]*rateEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(rateLimiterCleanupInterval),
	}
}

func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(rateLimiterCleanupInterval)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Must be called with mu held.
func (l *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleTimeout)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *RateLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// LimitReason names the limit that refused a connection.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// LimitsConfig configures ConnectionLimits.
type LimitsConfig struct {
	MaxConnections int
	MaxPerIP       int
	RatePerIP      float64
	BurstPerIP     int
}

// ConnectionLimits admits WebSocket upgrades against all three limits.
type ConnectionLimits struct {
	global *GlobalLimiter
	perIP  *IPLimiter
	rate   *RateLimiter
}

func NewConnectionLimits(cfg LimitsConfig, clock clockwork.Clock) *ConnectionLimits {
	return &ConnectionLimits{
		global: NewGlobalLimiter(int64(cfg.MaxConnections)),
		perIP:  NewIPLimiter(cfg.MaxPerIP),
		rate:   NewRateLimiter(cfg.RatePerIP, cfg.BurstPerIP, clock),
	}
}

// Acquire reserves a slot for ip. On refusal it returns the limit that was hit
// and holds nothing.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.Acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.Acquire(ip) {
		l.global.Release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.perIP.Release(ip)
	l.global.Release()
}

// LimitsStats is the limiter state exposed on /stats.
type LimitsStats struct {
	Connections    int64 `json:"connections"`
	MaxConnections int64 `json:"max_connections"`
	UniqueIPs      int   `json:"unique_ips"`
	RateLimiters   int   `json:"rate_limiters"`
}

func (l *ConnectionLimits) Stats() LimitsStats {
	return LimitsStats{
		Connections:    l.global.Current(),
		MaxConnections: l.global.Max(),
		UniqueIPs:      l.perIP.UniqueIPs(),
		RateLimiters:   l.rate.Active(),
	}
}
