package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"paycore/internal/transport/http/api"
)

type RateLimitOptions struct {
	// Limit is the number of requests a caller may make per Window.
	Limit  int
	Window time.Duration
	// IdleTTL drops limiters unused for that long. Defaults to two windows.
	IdleTTL time.Duration
	// TrustProxy keys anonymous callers by the first X-Forwarded-For hop.
	// Only enable it behind a proxy that overwrites the header.
	TrustProxy bool
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu        sync.Mutex
	opts      RateLimitOptions
	every     rate.Limit
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(opts RateLimitOptions) *rateLimiter {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * opts.Window
	}
	rl := &rateLimiter{
		opts:    opts,
		clients: map[string]*clientLimiter{},
		now:     time.Now,
	}
	if opts.Limit > 0 && opts.Window > 0 {
		rl.every = rate.Every(opts.Window / time.Duration(opts.Limit))
	}
	return rl
}

// RateLimit gives every caller a token bucket of opts.Limit requests
// refilled over opts.Window. Callers are keyed by user id when
// authenticated and by client IP otherwise.
func RateLimit(opts RateLimitOptions) func(http.Handler) http.Handler {
	rl := newRateLimiter(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *rateLimiter) key(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return "ip:" + clientIP(r, rl.opts.TrustProxy)
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			if value := strings.TrimSpace(strings.Split(fwd, ",")[0]); value != "" {
				return value
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// limiterFor returns the caller's limiter and evicts idle ones at most
// once per IdleTTL.
func (rl *rateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.opts.IdleTTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) >= rl.opts.IdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.every, rl.opts.Limit)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *rateLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if rl.opts.Limit <= 0 || rl.opts.Window <= 0 {
		return true
	}
	key := rl.key(r)
	now := rl.now()
	limiter := rl.limiterFor(key, now)

	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
	}
	remaining := max(int(limiter.TokensAt(now)), 0)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.opts.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

	if delay > 0 {
		retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		slog.Warn("rate limit exceeded",
			"key", key,
			"path", r.URL.Path,
			"method", r.Method,
			"limit", rl.opts.Limit,
		)
		api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
		return false
	}
	return true
}
