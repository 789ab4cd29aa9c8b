// Package auth carries the authenticated user through request
// contexts. It sits below both middleware and handler so neither needs
// to import the other.
package auth

import (
	"context"
	"net/http"

	"github.com/titlescout/titlescout/internal/domain"
)

type userKey struct{}

// SetUser returns a context holding user. Session middleware calls
// this after validating the token.
func SetUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// GetUser returns the authenticated user, or nil when the request was
// anonymous.
func GetUser(ctx context.Context) *domain.User {
	user, _ := ctx.Value(userKey{}).(*domain.User)
	return user
}

// GetUserFromRequest is shorthand for GetUser(r.Context()).
func GetUserFromRequest(r *http.Request) *domain.User {
	return GetUser(r.Context())
}
