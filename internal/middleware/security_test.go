package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func secureHeaders(t *testing.T, isSecure bool, method string) http.Header {
	t.Helper()

	mw := NewSecurityHeadersMiddleware(isSecure)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/internal/bookmarks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeaders_StandardSet(t *testing.T) {
	for _, method := range []string{"GET", "POST", "DELETE"} {
		h := secureHeaders(t, true, method)

		assert.Equal(t, "DENY", h.Get("X-Frame-Options"), method)
		assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"), method)
		assert.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"), method)
		assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", h.Get("Content-Security-Policy"), method)
	}
}

func TestSecurityHeaders_HSTSFollowsTLS(t *testing.T) {
	assert.Equal(t, "max-age=31536000; includeSubDomains",
		secureHeaders(t, true, "GET").Get("Strict-Transport-Security"))

	assert.Empty(t, secureHeaders(t, false, "GET").Get("Strict-Transport-Security"),
		"HSTS over plain HTTP would be ignored anyway")
}

func TestSecurityHeaders_ResponsePassesThrough(t *testing.T) {
	mw := NewSecurityHeadersMiddleware(true)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"bm_1"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/internal/bookmarks", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"bm_1"}`, rec.Body.String())
}
