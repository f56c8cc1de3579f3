package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/forest/internal/utils"
)

// RateLimitConfig configures the per client token bucket guarding the
// control plane API. Burst <= 0 disables limiting.
type RateLimitConfig struct {
	Burst         int
	RefillPerMin  int
	MaxClients    int
	SweepInterval time.Duration
	IdleTTL       time.Duration
	TrustProxy    bool
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	seen     time.Time
}

type limiter struct {
	cfg      RateLimitConfig
	perSec   float64
	capacity float64

	mu        sync.Mutex
	clients   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig, now time.Time) *limiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.RefillPerMin < 1 {
		cfg.RefillPerMin = 1
	}
	return &limiter{
		cfg:       cfg,
		perSec:    float64(cfg.RefillPerMin) / 60.0,
		capacity:  float64(cfg.Burst),
		clients:   make(map[string]*bucket, 64),
		lastSweep: now,
	}
}

func (l *limiter) bucketFor(client string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.cfg.SweepInterval ||
		(l.cfg.MaxClients > 0 && len(l.clients) >= l.cfg.MaxClients) {
		l.sweepLocked(now)
	}
	b := l.clients[client]
	if b == nil {
		b = &bucket{tokens: l.capacity, refilled: now, seen: now}
		l.clients[client] = b
	}
	return b
}

func (l *limiter) sweepLocked(now time.Time) {
	for client, b := range l.clients {
		b.mu.Lock()
		idle := now.Sub(b.seen) > l.cfg.IdleTTL
		b.mu.Unlock()
		if idle {
			delete(l.clients, client)
		}
	}
	l.lastSweep = now
}

// take consumes one token. When none is left it returns the number of
// seconds until the next one.
func (l *limiter) take(client string, now time.Time) (ok bool, remaining, retryAfter int) {
	b := l.bucketFor(client, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.refilled).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.perSec)
		b.refilled = now
	}
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := int(math.Ceil((1 - b.tokens) / l.perSec))
	if wait < 1 {
		wait = 1
	}
	return false, 0, wait
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg, time.Now())
	limit := strconv.Itoa(cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, retryAfter := l.take(utils.ClientIP(r, cfg.TrustProxy), time.Now())
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				deny(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
