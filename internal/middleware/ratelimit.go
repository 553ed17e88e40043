package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nomadbarefoot/surf/internal/types"
)

// maxTrackedClients bounds the per-IP bucket map so a scan across many
// source addresses cannot grow it without limit.
const maxTrackedClients = 10000

// bucketSweepInterval is how often stale per-IP buckets are dropped.
const bucketSweepInterval = 5 * time.Minute

// RateLimiter grants each client IP a fixed budget of requests per window.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       int
	window     time.Duration
	trustProxy bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	remaining   int
	windowStart time.Time
}

// NewRateLimiter starts a limiter allowing rate requests per window for each
// client IP. trustProxy controls whether forwarded-for headers are believed
// when resolving the client IP.
func NewRateLimiter(rate int, window time.Duration, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		window:     window,
		trustProxy: trustProxy,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request from ip fits inside its current window.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b := rl.buckets[ip]
	if b == nil {
		if len(rl.buckets) >= maxTrackedClients {
			rl.evictStalest()
		}
		rl.buckets[ip] = &bucket{remaining: rl.rate - 1, windowStart: now}
		return true
	}

	if now.Sub(b.windowStart) >= rl.window {
		b.remaining = rl.rate - 1
		b.windowStart = now
		return true
	}

	if b.remaining > 0 {
		b.remaining--
		return true
	}
	return false
}

// Close stops the sweep goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stop)
		<-rl.done
	})
}

// GetClientIP resolves the client IP for a request using the limiter's
// proxy-trust setting.
func (rl *RateLimiter) GetClientIP(r *http.Request) string {
	return clientIP(r, rl.trustProxy)
}

func (rl *RateLimiter) sweepLoop() {
	defer close(rl.done)
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropStale()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) dropStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.window)
	for ip, b := range rl.buckets {
		if b.windowStart.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// evictStalest removes the bucket with the oldest window to make room for a
// new client. Caller holds rl.mu.
func (rl *RateLimiter) evictStalest() {
	var victim string
	var oldest time.Time
	for ip, b := range rl.buckets {
		if victim == "" || b.windowStart.Before(oldest) {
			victim = ip
			oldest = b.windowStart
		}
	}
	if victim != "" {
		delete(rl.buckets, victim)
	}
}

// RateLimiterMiddleware bundles a RateLimiter with its HTTP middleware so the
// server can stop the sweep goroutine on shutdown.
type RateLimiterMiddleware struct {
	limiter *RateLimiter
}

// NewRateLimitMiddleware builds a per-IP limiter allowing requestsPerMinute
// requests in a one-minute window. Enable trustProxy only behind a trusted
// reverse proxy, otherwise clients can dodge the limit by forging
// X-Forwarded-For.
func NewRateLimitMiddleware(requestsPerMinute int, trustProxy bool) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		limiter: NewRateLimiter(requestsPerMinute, time.Minute, trustProxy),
	}
}

// Handler returns the middleware function enforcing the limit.
func (m *RateLimiterMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.limiter.Allow(m.limiter.GetClientIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeErrorResponse(w, http.StatusTooManyRequests, types.CodeRateLimitExceeded, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Close stops the underlying limiter.
func (m *RateLimiterMiddleware) Close() {
	if m.limiter != nil {
		m.limiter.Close()
	}
}

// clientIP resolves the client address for a request. Forwarded headers are
// consulted only when trustProxy is set; RemoteAddr is the fallback either way.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				first = xff[:idx]
			}
			if ip := canonicalIP(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := canonicalIP(xri); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return canonicalIP(host)
}

// canonicalIP collapses textual IP variants to one canonical form so the same
// client cannot occupy several buckets. IPv4-mapped IPv6 addresses become
// plain IPv4. Unparseable input is returned as given.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
