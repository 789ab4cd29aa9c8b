package middleware

import "net/http"

// baseSecurityHeaders go on every response. The API only ever returns
// JSON, so the CSP denies everything in case a browser renders an
// error body directly.
var baseSecurityHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
}

// SecurityHeadersMiddleware stamps the standard security headers on
// every response. HSTS is added only when the deployment terminates
// TLS, since sending it over plain HTTP is meaningless.
type SecurityHeadersMiddleware struct {
	isSecure bool
}

func NewSecurityHeadersMiddleware(isSecure bool) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{isSecure: isSecure}
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range baseSecurityHeaders {
			w.Header().Set(name, value)
		}
		if m.isSecure {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
