package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// KeyFunc derives the bucket a request is counted against.
type KeyFunc func(*http.Request) string

// HeaderScopedKey buckets by the value of header plus the client address, so
// one noisy tenant cannot exhaust the allowance of another behind the same
// proxy.
func HeaderScopedKey(header string) KeyFunc {
	return func(r *http.Request) string {
		scope := strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
		if scope == "" {
			scope = "-"
		}
		return scope + ":" + clientKey(r)
	}
}

type RateLimiter struct {
	limit    int
	window   time.Duration
	key      KeyFunc
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration, key KeyFunc) *RateLimiter {
	if key == nil {
		key = clientKey
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		key:      key,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(rl.key(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		rl.sweep(now)
		rl.visitors[key] = &visitor{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

// sweep drops expired buckets once the map grows; callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.visitors) < 1024 {
		return
	}
	for k, v := range rl.visitors {
		if now.After(v.resetTime) {
			delete(rl.visitors, k)
		}
	}
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
