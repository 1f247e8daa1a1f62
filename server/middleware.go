package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Options configures the admin guard and CORS behaviour of the mux.
type Options struct {
	AdminUsername string
	AdminPassword string
	AdminToken    string

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	CORSPermissive     bool
	CORSAllowedOrigins []string
}

func (o Options) authEnabled() bool {
	return (o.AdminUsername != "" && o.AdminPassword != "") || o.AdminToken != ""
}

// adminAuth accepts either the X-Admin-Token header or Basic credentials.
// With neither configured every request is refused.
func adminAuth(next http.Handler, opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.AdminToken != "" {
			if token := r.Header.Get("X-Admin-Token"); token != "" && equal(token, opts.AdminToken) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if opts.AdminUsername != "" && opts.AdminPassword != "" {
			if user, pass, ok := r.BasicAuth(); ok && equal(user, opts.AdminUsername) && equal(pass, opts.AdminPassword) {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="breadbot admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		reqLogger(r).Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ipRateLimiter is a sliding window limiter keyed by client IP.
type ipRateLimiter struct {
	visitors *xsync.Map[string, *visitor]
	limit    int
	window   time.Duration
	enabled  bool
}

type visitor struct {
	mu       sync.Mutex
	requests []time.Time
	seen     time.Time
}

func newIPRateLimiter(ctx context.Context, opts Options) *ipRateLimiter {
	rl := &ipRateLimiter{
		visitors: xsync.NewMap[string, *visitor](),
		limit:    opts.RateLimitRequests,
		window:   opts.RateLimitWindow,
		enabled:  opts.RateLimitEnabled,
	}
	if rl.limit < 1 {
		rl.limit = 10
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

// cleanup forgets visitors idle for two windows.
func (rl *ipRateLimiter) cleanup(now time.Time) {
	rl.visitors.Range(func(ip string, v *visitor) bool {
		v.mu.Lock()
		stale := now.Sub(v.seen) > 2*rl.window
		v.mu.Unlock()
		if stale {
			rl.visitors.Delete(ip)
		}
		return true
	})
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.enabled {
		return true
	}
	now := time.Now()
	v, _ := rl.visitors.LoadOrStore(ip, &visitor{})
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := now.Add(-rl.window)
	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept
	v.seen = now
	if len(v.requests) >= rl.limit {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

// clientIP prefers the first X-Forwarded-For hop and strips any port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		ip = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return strings.Trim(ip, "[]")
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			reqLogger(r).Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

func withCORS(next http.Handler, opts Options) http.Handler {
	if !opts.CORSPermissive && len(opts.CORSAllowedOrigins) == 0 {
		slog.Warn("CORS restricted mode enabled but no CORS_ALLOWED_ORIGINS configured; all CORS requests will be blocked")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case opts.CORSPermissive:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
		case origin != "" && isOriginAllowed(origin, opts.CORSAllowedOrigins):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches exact origins and "*.domain" wildcards, which also
// admit the bare domain.
func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if origin == a {
			return true
		}
		if domain, ok := strings.CutPrefix(a, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}
