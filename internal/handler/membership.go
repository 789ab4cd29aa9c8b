// This file implements the department and invitation endpoints.
//
// Routes:
//   - POST /internal/departments
//   - GET  /internal/departments/{id}
//   - POST /internal/departments/{id}/invitations
//   - POST /internal/invitations/accept
//   - DELETE /internal/departments/{id}/members/{userID}
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// MembershipHandler serves department and invitation operations.
type MembershipHandler struct {
	membership service.MembershipService
	logger     *slog.Logger
}

// NewMembershipHandler creates a new MembershipHandler.
func NewMembershipHandler(membership service.MembershipService, logger *slog.Logger) *MembershipHandler {
	return &MembershipHandler{
		membership: membership,
		logger:     logger,
	}
}

// RegisterRoutes registers membership routes on the provided mux.
func (h *MembershipHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /internal/departments", requireUser(http.HandlerFunc(h.CreateDepartment)))
	mux.Handle("GET /internal/departments/{id}", requireUser(http.HandlerFunc(h.GetDepartment)))
	mux.Handle("POST /internal/departments/{id}/invitations", requireUser(http.HandlerFunc(h.InviteMember)))
	mux.Handle("POST /internal/invitations/accept", requireUser(http.HandlerFunc(h.AcceptInvitation)))
	mux.Handle("DELETE /internal/departments/{id}/members/{userID}", requireUser(http.HandlerFunc(h.RemoveMember)))
}

type createDepartmentRequest struct {
	Name     string `json:"name"`
	Tier     string `json:"tier"`
	MaxSeats int    `json:"max_seats"`
}

type departmentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tier      string `json:"tier"`
	Status    string `json:"status"`
	MaxSeats  int    `json:"max_seats"`
	UsedSeats int    `json:"used_seats"`
}

func toDepartmentResponse(d *domain.Department) departmentResponse {
	return departmentResponse{
		ID:        d.ID.String(),
		Name:      d.Name,
		Tier:      string(d.SubscriptionTier),
		Status:    string(d.SubscriptionStatus),
		MaxSeats:  d.MaxSeats,
		UsedSeats: d.UsedSeats,
	}
}

// CreateDepartment creates a department with the caller as owner.
func (h *MembershipHandler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req createDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	dept, err := h.membership.CreateDepartment(r.Context(), domain.CreateDepartmentParams{
		Name:     req.Name,
		Tier:     domain.DepartmentTier(req.Tier),
		MaxSeats: req.MaxSeats,
		OwnerID:  user.ID,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDepartmentResponse(dept))
}

// GetDepartment returns one department.
func (h *MembershipHandler) GetDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid department ID"))
		return
	}

	dept, err := h.membership.GetDepartment(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toDepartmentResponse(dept))
}

type inviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type invitationResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// InviteMember issues or rotates an invitation.
func (h *MembershipHandler) InviteMember(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	departmentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid department ID"))
		return
	}

	var req inviteMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.membership.InviteMember(r.Context(), departmentID, req.Email, domain.MemberRole(req.Role), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	// The raw token travels only in the invitation email, never in the API
	// response.
	writeJSON(w, http.StatusCreated, invitationResponse{
		ID:        result.Invitation.ID.String(),
		Email:     result.Invitation.Email,
		Role:      string(result.Invitation.Role),
		ExpiresAt: result.Invitation.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

type memberResponse struct {
	DepartmentID string `json:"department_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
}

// AcceptInvitation redeems an invitation token for the caller.
func (h *MembershipHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Token == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invitation token is required"))
		return
	}

	member, err := h.membership.AcceptInvitation(r.Context(), req.Token, user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, memberResponse{
		DepartmentID: member.DepartmentID.String(),
		UserID:       member.UserID.String(),
		Role:         string(member.Role),
	})
}

// RemoveMember removes a member from a department.
func (h *MembershipHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	departmentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid department ID"))
		return
	}
	targetID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid user ID"))
		return
	}

	if err := h.membership.RemoveMember(r.Context(), departmentID, targetID, user.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
