// This file implements account and session endpoints.
//
// Routes:
//   - POST /auth/register
//   - POST /auth/login
//   - POST /auth/logout
//   - GET  /internal/me
//   - POST /internal/users/{id}/role   (admin only)
//   - DELETE /internal/users/{id}
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// UserHandler serves account and session operations.
type UserHandler struct {
	users    service.UserService
	logger   *slog.Logger
	isSecure bool
}

// NewUserHandler creates a new UserHandler.
// isSecure should be true in production so session cookies are HTTPS-only.
func NewUserHandler(users service.UserService, isSecure bool, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		logger:   logger,
		isSecure: isSecure,
	}
}

// RegisterRoutes registers user routes on the provided mux.
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, requireUser, requireAdmin func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.Handle("GET /internal/me", requireUser(http.HandlerFunc(h.Me)))
	mux.Handle("POST /internal/users/{id}/role", requireAdmin(http.HandlerFunc(h.ChangeRole)))
	mux.Handle("DELETE /internal/users/{id}", requireUser(http.HandlerFunc(h.DeleteUser)))
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type userResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Tier   string `json:"tier"`
	Status string `json:"subscription_status"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:     u.ID.String(),
		Email:  u.Email,
		Name:   u.Name,
		Role:   string(u.Role),
		Tier:   string(u.Tier),
		Status: string(u.SubscriptionStatus),
	}
}

// Register creates a new account on the free tier.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	user, err := h.users.Register(r.Context(), domain.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates and starts a session. The token is returned in the
// body for API clients and set as a cookie for browser clients.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, h.isSecure)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

// Logout ends the session named by the cookie or bearer token. Idempotent.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFromRequest(r)
	if token != "" {
		if err := h.users.Logout(r.Context(), token); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	auth.ClearSessionCookie(w, h.isSecure)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// ChangeRole changes a user's platform role. Admin only; the change and its
// audit entry commit together.
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromRequest(r)

	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid user ID"))
		return
	}

	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	err = h.users.ChangeRole(r.Context(), domain.RoleChangeParams{
		ActorID:  actor.ID,
		TargetID: targetID,
		NewRole:  domain.UserRole(req.Role),
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser soft-disables an account. Users may delete themselves; admins
// may delete anyone.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromRequest(r)

	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid user ID"))
		return
	}

	if err := h.users.DeleteUser(r.Context(), targetID, actor.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sessionTokenFromRequest extracts the session token from the cookie or the
// Authorization header.
func sessionTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
