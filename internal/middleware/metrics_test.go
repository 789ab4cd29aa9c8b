package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func scrapeEndpoint() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("titlescout_jobs_in_flight 0\n"))
	})
}

func TestMetricsAuth_ValidCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("prometheus", "scrape-secret")

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("prometheus", "scrape-secret")
	rec := httptest.NewRecorder()
	mw.Handler(scrapeEndpoint()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "titlescout_jobs_in_flight")
}

func TestMetricsAuth_RejectsBadCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("prometheus", "scrape-secret")

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no credentials", func(r *http.Request) {}},
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("prometheus", "guess") }},
		{"wrong username", func(r *http.Request) { r.SetBasicAuth("grafana", "scrape-secret") }},
		{"both empty", func(r *http.Request) { r.SetBasicAuth("", "") }},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!not-base64!!!") }},
		{"bearer token instead", func(r *http.Request) { r.Header.Set("Authorization", "Bearer scrape-secret") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			mw.Handler(scrapeEndpoint()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Basic realm="metrics"`, rec.Header().Get("WWW-Authenticate"))
			assert.NotContains(t, rec.Body.String(), "titlescout_jobs_in_flight")
		})
	}
}

func TestMetricsAuth_DisabledWhenUnconfigured(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	mw.Handler(scrapeEndpoint()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAuth_PasswordOnlyStillEnforced(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "scrape-secret")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	mw.Handler(scrapeEndpoint()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("", "scrape-secret")
	rec = httptest.NewRecorder()
	mw.Handler(scrapeEndpoint()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
