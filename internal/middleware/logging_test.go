package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// logRequest runs one request through the logging middleware and
// returns the captured log output.
func logRequest(t *testing.T, req *http.Request, status int) string {
	t.Helper()

	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestRequestLogging_BasicFields(t *testing.T) {
	req := httptest.NewRequest("GET", "/internal/bookmarks", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("User-Agent", "titlescout-cli/1.4")

	out := logRequest(t, req, http.StatusOK)

	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "/internal/bookmarks")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "duration_ms=")
	assert.Contains(t, out, "titlescout-cli/1.4")
}

func TestRequestLogging_UsesForwardedForIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/internal/counties", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.195")

	out := logRequest(t, req, http.StatusOK)

	assert.Contains(t, out, "203.0.113.195")
}

func TestRequestLogging_CapturesHandlerStatus(t *testing.T) {
	req := httptest.NewRequest("GET", "/internal/bookmarks/missing", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	out := logRequest(t, req, http.StatusNotFound)

	assert.Contains(t, out, "status=404")
}

func TestRequestLogging_ServerErrorsLogAtWarn(t *testing.T) {
	req := httptest.NewRequest("POST", "/internal/searches", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	out := logRequest(t, req, http.StatusInternalServerError)

	assert.Contains(t, out, "status=500")
	assert.Contains(t, out, "level=WARN")
}

func TestRequestLogging_RedactsSecretQueryParams(t *testing.T) {
	tests := []struct {
		name   string
		target string
		secret string
	}{
		{"invitation token", "/internal/invitations/accept?token=secrettoken123", "secrettoken123"},
		{"api key", "/internal/searches?api_key=abc123secret", "abc123secret"},
		{"mixed case name", "/internal/export?Access_Token=tok999", "tok999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			req.RemoteAddr = "192.168.1.1:12345"

			out := logRequest(t, req, http.StatusOK)

			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestRequestLogging_KeepsHarmlessQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/internal/history?limit=25", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	out := logRequest(t, req, http.StatusOK)

	assert.Contains(t, out, "limit=25")
}

func TestRequestLogging_SkipsProbeEndpoints(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "192.168.1.1:12345"

		out := logRequest(t, req, http.StatusOK)

		assert.Empty(t, out, "expected no log line for %s", path)
	}
}

func TestRequestLogging_PassesResponseThrough(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req-7")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"bm_1"}`))
	}))

	req := httptest.NewRequest("POST", "/internal/bookmarks", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, `{"id":"bm_1"}`, rec.Body.String())
}
