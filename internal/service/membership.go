// Package service contains the business logic layer.
//
// This file implements the tenant membership store: department creation,
// invitation issuance, and invitation acceptance. The seat ceiling is
// enforced by a guarded increment inside the acceptance transaction — the
// transaction boundary is the lock, and used_seats can never drift from the
// member count because both mutations commit or roll back together.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/repository"
	"github.com/titlescout/titlescout/internal/worker"
)

const (
	// InvitationTokenBytes is the number of random bytes in an invitation
	// token. 32 bytes = 256 bits of entropy; the token is the only
	// credential needed to accept, so it must be unguessable.
	InvitationTokenBytes = 32
)

// MembershipService manages departments, members, and invitations.
type MembershipService interface {
	// CreateDepartment creates a department with the creator as sole owner,
	// occupying the first seat.
	CreateDepartment(ctx context.Context, params domain.CreateDepartmentParams) (*domain.Department, error)

	// GetDepartment loads a department by ID.
	GetDepartment(ctx context.Context, id uuid.UUID) (*domain.Department, error)

	// InviteMember issues (or rotates) an invitation. The actor must be an
	// owner or admin of the department. Re-inviting a pending email rotates
	// the token instead of creating a second invitation.
	InviteMember(ctx context.Context, departmentID uuid.UUID, email string, role domain.MemberRole, actorID uuid.UUID) (*domain.InviteResult, error)

	// AcceptInvitation redeems a raw invitation token for the given user.
	// Returns domain.EGONE if expired, domain.ECONFLICT if already accepted,
	// domain.ESEATLIMIT if the department is full.
	AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*domain.DepartmentMember, error)

	// RemoveMember removes a non-owner member and releases their seat.
	RemoveMember(ctx context.Context, departmentID, targetUserID, actorID uuid.UUID) error

	// DepartmentForBilling loads a department for a billing operation.
	// The actor must be its owner or an admin.
	DepartmentForBilling(ctx context.Context, departmentID, actorID uuid.UUID) (*domain.Department, error)

	// SetStripeCustomer stores the department's billing customer ID,
	// created lazily on its first checkout.
	SetStripeCustomer(ctx context.Context, departmentID uuid.UUID, customerID string) error
}

type membershipService struct {
	db            *sql.DB
	queries       *repository.Queries
	audit         AuditService
	logger        *slog.Logger
	invitationTTL time.Duration
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(db *sql.DB, queries *repository.Queries, audit AuditService, invitationTTL time.Duration, logger *slog.Logger) MembershipService {
	return &membershipService{
		db:            db,
		queries:       queries,
		audit:         audit,
		logger:        logger,
		invitationTTL: invitationTTL,
	}
}

func (s *membershipService) CreateDepartment(ctx context.Context, params domain.CreateDepartmentParams) (*domain.Department, error) {
	const op = "membership.create_department"

	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, domain.Invalid(op, "Department name is required")
	}
	if params.MaxSeats < 1 {
		return nil, domain.Invalid(op, "A department needs at least one seat")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	dept, err := qtx.CreateDepartment(ctx, repository.CreateDepartmentParams{
		ID:       uuid.New(),
		Name:     params.Name,
		Tier:     string(params.Tier),
		MaxSeats: int32(params.MaxSeats),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create department")
	}

	_, err = qtx.CreateDepartmentMember(ctx, repository.CreateDepartmentMemberParams{
		ID:           uuid.New(),
		DepartmentID: dept.ID,
		UserID:       params.OwnerID,
		Role:         string(domain.MemberRoleOwner),
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.Conflict(op, "User already belongs to a department")
		}
		return nil, domain.Internal(err, op, "Failed to create owner membership")
	}

	err = s.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    params.OwnerID,
		Action:     domain.AuditMemberJoined,
		TargetType: domain.AuditTargetDepartment,
		TargetID:   dept.ID.String(),
		Details:    map[string]any{"user_id": params.OwnerID.String(), "role": string(domain.MemberRoleOwner)},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "Failed to commit department creation")
	}

	s.logger.Info("department created", "department_id", dept.ID, "owner_id", params.OwnerID)
	return toDomainDepartment(dept), nil
}

func (s *membershipService) GetDepartment(ctx context.Context, id uuid.UUID) (*domain.Department, error) {
	const op = "membership.get_department"

	dept, err := s.queries.GetDepartmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "department", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to load department")
	}
	return toDomainDepartment(dept), nil
}

func (s *membershipService) InviteMember(ctx context.Context, departmentID uuid.UUID, email string, role domain.MemberRole, actorID uuid.UUID) (*domain.InviteResult, error) {
	const op = "membership.invite_member"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.Invalid(op, "A valid email address is required")
	}
	if role != domain.MemberRoleAdmin && role != domain.MemberRoleMember {
		return nil, domain.Invalid(op, "Invitation role must be admin or member")
	}

	actor, err := s.queries.GetDepartmentMember(ctx, departmentID, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Forbidden(op, "Only department members can invite")
		}
		return nil, domain.Internal(err, op, "Failed to load actor membership")
	}
	if !domain.MemberRole(actor.Role).CanInvite() {
		return nil, domain.Forbidden(op, "Only owners and admins can invite")
	}

	token, tokenHash, err := generateInvitationToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate invitation token")
	}

	inv, err := s.queries.UpsertInvitation(ctx, repository.UpsertInvitationParams{
		ID:           uuid.New(),
		DepartmentID: departmentID,
		Email:        email,
		Role:         string(role),
		TokenHash:    tokenHash,
		InvitedBy:    actorID,
		ExpiresAt:    time.Now().UTC().Add(s.invitationTTL),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to store invitation")
	}

	// Delivery happens off the request path; the invitation is valid even if
	// the email lags.
	_, err = worker.EnqueueSendInvitation(ctx, s.queries, inv.ID, email, token)
	if err != nil {
		s.logger.Error("failed to enqueue invitation email", "error", err, "invitation_id", inv.ID)
	}

	s.logger.Info("invitation issued",
		"department_id", departmentID, "email", email, "role", role, "actor_id", actorID)

	return &domain.InviteResult{
		Invitation: toDomainInvitation(inv),
		Token:      token,
	}, nil
}

func (s *membershipService) AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*domain.DepartmentMember, error) {
	const op = "membership.accept_invitation"

	tokenHash := hashToken(token)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	inv, err := qtx.GetInvitationByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "invitation", token[:min(len(token), 8)])
		}
		return nil, domain.Internal(err, op, "Failed to load invitation")
	}
	if inv.AcceptedAt.Valid {
		return nil, domain.Conflict(op, "Invitation has already been accepted")
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		return nil, domain.Gone(op, "Invitation has expired")
	}

	// The guarded increment is the seat-ceiling check: when two acceptances
	// race for the last seat, exactly one statement affects a row.
	claimed, err := qtx.IncrementUsedSeats(ctx, inv.DepartmentID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to claim seat")
	}
	if claimed == 0 {
		metrics.SeatDenials.Inc()
		dept, derr := qtx.GetDepartmentByID(ctx, inv.DepartmentID)
		maxSeats := 0
		if derr == nil {
			maxSeats = int(dept.MaxSeats)
		}
		return nil, domain.SeatLimitExceeded(op, maxSeats)
	}

	member, err := qtx.CreateDepartmentMember(ctx, repository.CreateDepartmentMemberParams{
		ID:           uuid.New(),
		DepartmentID: inv.DepartmentID,
		UserID:       userID,
		Role:         inv.Role,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.Conflict(op, "User already belongs to a department")
		}
		return nil, domain.Internal(err, op, "Failed to create membership")
	}

	stamped, err := qtx.MarkInvitationAccepted(ctx, inv.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to mark invitation accepted")
	}
	if stamped == 0 {
		// A concurrent acceptance of the same token won the race.
		return nil, domain.Conflict(op, "Invitation has already been accepted")
	}

	err = s.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    userID,
		Action:     domain.AuditMemberJoined,
		TargetType: domain.AuditTargetDepartment,
		TargetID:   inv.DepartmentID.String(),
		Details:    map[string]any{"user_id": userID.String(), "role": inv.Role},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "Failed to commit acceptance")
	}

	metrics.InvitationsAccepted.Inc()
	s.logger.Info("invitation accepted",
		"department_id", inv.DepartmentID, "user_id", userID, "role", inv.Role)

	return toDomainMember(member), nil
}

func (s *membershipService) RemoveMember(ctx context.Context, departmentID, targetUserID, actorID uuid.UUID) error {
	const op = "membership.remove_member"

	actor, err := s.queries.GetDepartmentMember(ctx, departmentID, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Forbidden(op, "Only department members can remove members")
		}
		return domain.Internal(err, op, "Failed to load actor membership")
	}
	if !domain.MemberRole(actor.Role).CanInvite() {
		return domain.Forbidden(op, "Only owners and admins can remove members")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	removed, err := qtx.DeleteDepartmentMember(ctx, departmentID, targetUserID)
	if err != nil {
		return domain.Internal(err, op, "Failed to remove member")
	}
	if removed == 0 {
		return domain.NotFound(op, "member", targetUserID.String())
	}

	if _, err := qtx.DecrementUsedSeats(ctx, departmentID); err != nil {
		return domain.Internal(err, op, "Failed to release seat")
	}

	err = s.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.AuditMemberRemoved,
		TargetType: domain.AuditTargetDepartment,
		TargetID:   departmentID.String(),
		Details:    map[string]any{"user_id": targetUserID.String()},
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit member removal")
	}

	s.logger.Info("member removed",
		"department_id", departmentID, "user_id", targetUserID, "actor_id", actorID)
	return nil
}

func (s *membershipService) DepartmentForBilling(ctx context.Context, departmentID, actorID uuid.UUID) (*domain.Department, error) {
	const op = "membership.department_for_billing"

	actor, err := s.queries.GetDepartmentMember(ctx, departmentID, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Forbidden(op, "Only department members can manage billing")
		}
		return nil, domain.Internal(err, op, "Failed to load actor membership")
	}
	if !domain.MemberRole(actor.Role).CanManageBilling() {
		return nil, domain.Forbidden(op, "Only owners and admins can manage billing")
	}

	dept, err := s.queries.GetDepartmentByID(ctx, departmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "department", departmentID.String())
		}
		return nil, domain.Internal(err, op, "Failed to load department")
	}
	return toDomainDepartment(dept), nil
}

func (s *membershipService) SetStripeCustomer(ctx context.Context, departmentID uuid.UUID, customerID string) error {
	const op = "membership.set_stripe_customer"

	if customerID == "" {
		return domain.Invalid(op, "A billing customer ID is required")
	}
	if err := s.queries.UpdateDepartmentStripeCustomer(ctx, departmentID, customerID); err != nil {
		return domain.Internal(err, op, "Failed to store billing customer")
	}
	s.logger.Info("department billing customer linked",
		"department_id", departmentID, "customer_id", customerID)
	return nil
}

// generateInvitationToken returns a raw token and its SHA-256 hash.
// Only the hash is persisted.
func generateInvitationToken() (token, tokenHash string, err error) {
	buf := make([]byte, InvitationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

// hashToken returns the hex-encoded SHA-256 of a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
