package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts events per key over a fixed window. Everything is
// in process memory; a multi-instance deployment would need a shared
// store, but one instance per region is the current shape.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	startAt time.Time
}

func NewRateLimiter(maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
		buckets:     make(map[string]*bucket),
	}
	go rl.sweep()
	return rl
}

// live returns the current bucket for key, discarding one whose window
// has lapsed. Callers must hold mu.
func (rl *RateLimiter) live(key string) *bucket {
	b, ok := rl.buckets[key]
	if !ok || time.Since(b.startAt) > rl.window {
		b = &bucket{startAt: time.Now()}
		rl.buckets[key] = b
	}
	return b
}

// Allow counts one attempt against key and reports whether it fits
// inside the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.live(key)
	if b.count >= rl.maxAttempts {
		return false
	}
	b.count++
	return true
}

// Blocked reports whether key is over the limit without counting an
// attempt.
func (rl *RateLimiter) Blocked(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.live(key).count >= rl.maxAttempts
}

// RecordFailure counts one attempt against key unconditionally.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.live(key).count++
}

// Reset forgives all attempts for key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// TimeUntilReset reports how long key stays limited.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return 0
	}
	remaining := rl.window - time.Since(b.startAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// sweep drops lapsed buckets so idle keys do not accumulate.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if time.Since(b.startAt) > rl.window {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// tooManyRequests writes the 429 response with a Retry-After hint.
func tooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "rate_limit_exceeded",
			"message": "Too many requests. Please try again later.",
		},
	})
}

// RateLimitMiddleware limits requests by client IP, counting every
// request against the limit.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewRateLimitMiddleware(limiter *RateLimiter, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !m.limiter.Allow(ip) {
			m.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)
			tooManyRequests(w, m.limiter.TimeUntilReset(ip))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthRateLimiter bundles the limiters for the unauthenticated
// endpoints, which are the ones worth brute-forcing.
type AuthRateLimiter struct {
	login      *RateLimiter
	register   *RateLimiter
	invitation *RateLimiter
	logger     *slog.Logger
}

// NewAuthRateLimiter builds the limiters with their production limits:
// 5 failed logins per 15 minutes, 3 registrations per hour, and 10
// invitation-acceptance attempts per hour to slow token guessing.
func NewAuthRateLimiter(logger *slog.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		login:      NewRateLimiter(5, 15*time.Minute, logger),
		register:   NewRateLimiter(3, time.Hour, logger),
		invitation: NewRateLimiter(10, time.Hour, logger),
		logger:     logger,
	}
}

// LimitLogin counts only failed logins. The middleware watches the
// response status: a 401 counts against the IP, a success clears it,
// so legitimate users who remember their password are never throttled.
func (a *AuthRateLimiter) LimitLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if a.login.Blocked(ip) {
			a.logger.Warn("login rate limit exceeded", "ip", ip)
			tooManyRequests(w, a.login.TimeUntilReset(ip))
			return
		}

		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		switch {
		case rec.statusCode == http.StatusUnauthorized:
			a.login.RecordFailure(ip)
		case rec.statusCode < 400:
			a.login.Reset(ip)
		}
	})
}

// LimitRegister throttles account creation by IP.
func (a *AuthRateLimiter) LimitRegister(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.register, a.logger).Limit(next)
}

// LimitInvitationAccept throttles invitation acceptance, whose token
// lives in the request body.
func (a *AuthRateLimiter) LimitInvitationAccept(next http.Handler) http.Handler {
	return NewRateLimitMiddleware(a.invitation, a.logger).Limit(next)
}

// getClientIP resolves the original client address, trusting proxy
// headers when present. X-Forwarded-For lists client first, then each
// proxy that relayed the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
