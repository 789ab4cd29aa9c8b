package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// MetricsAuthMiddleware gates the Prometheus scrape endpoint with basic
// auth. With no credentials configured the endpoint is open, which is fine
// when the listener is not internet-facing.
type MetricsAuthMiddleware struct {
	userDigest [32]byte
	passDigest [32]byte
	enabled    bool
}

// NewMetricsAuthMiddleware creates the scrape-endpoint guard. Credentials
// are held as digests so the comparison is constant-time regardless of
// length.
func NewMetricsAuthMiddleware(username, password string) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		userDigest: sha256.Sum256([]byte(username)),
		passDigest: sha256.Sum256([]byte(password)),
		enabled:    username != "" || password != "",
	}
}

// Handler enforces basic auth when credentials are configured.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !m.credentialsMatch(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *MetricsAuthMiddleware) credentialsMatch(user, pass string) bool {
	u := sha256.Sum256([]byte(user))
	p := sha256.Sum256([]byte(pass))
	userOK := subtle.ConstantTimeCompare(u[:], m.userDigest[:])
	passOK := subtle.ConstantTimeCompare(p[:], m.passDigest[:])
	return userOK&passOK == 1
}
