package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lets tenant websites embed the public booking widget.
// Only paths under PathPrefix receive CORS headers.
type CORSPolicy struct {
	PathPrefix     string
	AllowedOrigins []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// WithCORS is a no-op when AllowedOrigins is empty.
func WithCORS(cfg CORSPolicy) Middleware {
	if len(cfg.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := trimAll(cfg.AllowedOrigins)
	headers := strings.Join(append([]string{"Content-Type", RequestIDHeader}, trimAll(cfg.AllowedHeaders)...), ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !strings.HasPrefix(r.URL.Path, cfg.PathPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			allow, ok := matchOrigin(origin, origins)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", headers)
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func matchOrigin(origin string, allowed []string) (string, bool) {
	for _, candidate := range allowed {
		if candidate == "*" {
			return "*", true
		}
		if strings.EqualFold(candidate, origin) {
			return origin, true
		}
	}
	return "", false
}
