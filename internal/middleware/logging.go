package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// redactedParams are query parameters whose values never belong in
// logs. Matching is case-insensitive on the parameter name.
var redactedParams = map[string]bool{
	"token":         true,
	"code":          true,
	"key":           true,
	"secret":        true,
	"password":      true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
}

// RequestLoggingMiddleware emits one structured log line per request
// with method, sanitized path, status, latency and client IP.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{logger: logger}
}

// Handler wraps next with request logging. Probe endpoints are left
// out to keep the logs readable.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipLogging(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", sanitizePath(r.URL.Path, r.URL.RawQuery),
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", getClientIP(r),
			"user_agent", r.UserAgent(),
		}
		if rec.statusCode >= 500 {
			m.logger.Warn("request", attrs...)
		} else {
			m.logger.Info("request", attrs...)
		}
	})
}

func skipLogging(path string) bool {
	return strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/metrics")
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath rebuilds the query string with secret-bearing values
// replaced by a placeholder. Bare parameters without '=' are dropped.
func sanitizePath(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}

	var safe []string
	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if redactedParams[strings.ToLower(name)] {
			safe = append(safe, name+"=[REDACTED]")
		} else {
			safe = append(safe, name+"="+value)
		}
	}

	if len(safe) == 0 {
		return path
	}
	return path + "?" + strings.Join(safe, "&")
}
