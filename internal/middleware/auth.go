package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/handler"
	"github.com/titlescout/titlescout/internal/service"
)

// AuthMiddleware resolves session tokens into users and gates routes
// that require authentication. Create one instance and use its methods
// as middleware.
type AuthMiddleware struct {
	users    service.UserService
	logger   *slog.Logger
	isSecure bool
}

// NewAuthMiddleware creates a new auth middleware.
// Set isSecure to true in production so cleared cookies carry the Secure flag.
func NewAuthMiddleware(users service.UserService, logger *slog.Logger, isSecure bool) *AuthMiddleware {
	return &AuthMiddleware{
		users:    users,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithUser resolves the session token (cookie or Authorization header) and,
// if valid, attaches the user to the request context. Requests without a
// token or with an invalid token pass through unauthenticated; gating is
// RequireUser's job.
func (m *AuthMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := extractSessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.users.GetBySessionToken(r.Context(), token)
		if err != nil {
			// Expired or revoked session. Clear the cookie so the client
			// stops presenting it on every request.
			if fromCookie {
				auth.ClearSessionCookie(w, m.isSecure)
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.SetUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects unauthenticated requests with a 401.
// Must run after WithUser.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUser(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests from non-admin users. Unauthenticated
// requests get a 401, authenticated non-admins a 403.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUser(r.Context())
		if !user.IsAdmin() {
			m.logger.Warn("admin route denied",
				"user_id", user.ID,
				"path", r.URL.Path,
			)
			handler.ForbiddenResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// extractSessionToken pulls the session token from the request. The cookie
// takes precedence; API clients may send "Authorization: Bearer <token>"
// instead. The second return reports whether the token came from the cookie.
func extractSessionToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return token, false
	}

	return "", false
}

// Stack composes middleware functions. The first middleware in the list is
// the outermost, so Stack(a, b, c)(h) serves a(b(c(h))).
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
