package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// RateLimitConfig bounds request volume per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int
	Enabled           bool
}

// DefaultRateLimitConfig allows 120 requests per minute per client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		Enabled:           true,
	}
}

// clientWindow tracks one client's fixed window.
type clientWindow struct {
	count   int
	resetAt time.Time
}

// memoryLimiter is an in-process fixed-window domain.RateLimiter, the
// fallback when no shared limiter (Redis) is configured. It only bounds the
// local process.
type memoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
}

var _ domain.RateLimiter = (*memoryLimiter)(nil)

func newMemoryLimiter() *memoryLimiter {
	ml := &memoryLimiter{clients: make(map[string]*clientWindow)}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ml.sweep(time.Now())
		}
	}()
	return ml
}

func (ml *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	ml.mu.Lock()
	defer ml.mu.Unlock()

	w, ok := ml.clients[key]
	if !ok || now.After(w.resetAt) {
		ml.clients[key] = &clientWindow{count: 1, resetAt: now.Add(window)}
		return true, nil
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// sweep drops windows that expired, keeping the map bounded.
func (ml *memoryLimiter) sweep(now time.Time) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for key, w := range ml.clients {
		if now.After(w.resetAt) {
			delete(ml.clients, key)
		}
	}
}

// RateLimit rejects clients exceeding the per-minute request budget with 429
// and a Retry-After header. A nil limiter falls back to an in-process
// window; pass a Redis-backed limiter to enforce the budget across replicas.
func RateLimit(cfg RateLimitConfig, limiter domain.RateLimiter) func(http.Handler) http.Handler {
	if limiter == nil {
		limiter = newMemoryLimiter()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), extractClientIP(r), cfg.RequestsPerMinute, time.Minute)
			if err != nil {
				// Fail open: a limiter outage must not take the
				// control plane down with it.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP resolves the client address, honouring proxy headers.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
