package middleware

import (
	"net/http"
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	started time.Time
}

// rateLimiter counts requests per caller in fixed one-minute windows.
// Counters live in process memory, so the limit applies per instance.
type rateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	perMinute int
	lastPrune time.Time
	now       func() time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		windows:   map[string]*rateWindow{},
		perMinute: perMinute,
		now:       time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// Callers that went quiet leave closed windows behind; sweep them
	// at most once a minute.
	if now.Sub(l.lastPrune) >= time.Minute {
		for k, win := range l.windows {
			if now.Sub(win.started) >= time.Minute {
				delete(l.windows, k)
			}
		}
		l.lastPrune = now
	}

	win := l.windows[key]
	if win == nil || now.Sub(win.started) >= time.Minute {
		win = &rateWindow{started: now}
		l.windows[key] = win
	}
	win.count++
	return win.count <= l.perMinute
}

// RateLimit returns middleware that enforces a per-minute request
// limit per authenticated caller.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	limiter := newRateLimiter(perMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := GetEmail(r.Context())
			if email == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.allow(email) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, slow down"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
