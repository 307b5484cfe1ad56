package api

import (
	"sync"
	"time"

	"cleanbook/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultBurst  = 5
	limiterMaxAge = 10 * time.Minute
)

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// rateLimiter keeps one token bucket per client key. Buckets idle for
// longer than limiterMaxAge are dropped on the next sweep.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RPS),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *rateLimiter) enabled() bool { return l.limit > 0 }

func (l *rateLimiter) allow(key string) bool {
	if !l.enabled() {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterMaxAge {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > limiterMaxAge {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
