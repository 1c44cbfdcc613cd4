package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter rate-limits login attempts per source address. Entries idle
// longer than staleAfter are pruned on the next Allow call.
type LoginLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perMinute int
	lastPrune time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const staleAfter = 10 * time.Minute

func NewLoginLimiter(perMinute int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &LoginLimiter{
		visitors:  make(map[string]*visitor),
		perMinute: perMinute,
		lastPrune: time.Now(),
	}
}

// Allow reports whether a login attempt from addr may proceed.
func (l *LoginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastPrune) > staleAfter {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > staleAfter {
				delete(l.visitors, key)
			}
		}
		l.lastPrune = now
	}

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute),
		}
		l.visitors[addr] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}
