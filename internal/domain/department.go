// Package domain contains core business types and interfaces.
//
// This file defines the tenant types: departments, their members, and
// pending invitations. Seat accounting lives on the department row and is
// only ever mutated through a guarded update, so 0 <= UsedSeats <= MaxSeats
// holds under concurrent invitation acceptances.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DepartmentTier represents the pricing tier of a department subscription.
type DepartmentTier string

const (
	DepartmentTierStarter      DepartmentTier = "starter"
	DepartmentTierProfessional DepartmentTier = "professional"
	DepartmentTierEnterprise   DepartmentTier = "enterprise"
)

// Department represents a tenant: an agency or office whose members share
// a seat-based subscription.
type Department struct {
	ID                   uuid.UUID
	Name                 string
	SubscriptionTier     DepartmentTier
	SubscriptionStatus   SubscriptionStatus
	SubscriptionEndDate  *time.Time
	PastDueSince         *time.Time
	MaxSeats             int
	UsedSeats            int
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SeatsRemaining returns how many seats are still available.
func (d *Department) SeatsRemaining() int {
	if d.UsedSeats >= d.MaxSeats {
		return 0
	}
	return d.MaxSeats - d.UsedSeats
}

// MemberRole represents a user's role within a department.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// CanInvite returns true if the role is allowed to issue invitations.
func (r MemberRole) CanInvite() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

// CanManageBilling returns true if the role may run checkout and other
// billing operations for the department.
func (r MemberRole) CanManageBilling() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

// DepartmentMember joins a user to a department.
// Created only by accepting an invitation, or at department creation
// (the creator becomes the sole owner).
type DepartmentMember struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	UserID       uuid.UUID
	Role         MemberRole
	CreatedAt    time.Time
}

// DepartmentInvitation is a pending or accepted invitation.
//
// The raw token is returned to the caller exactly once at issuance; only its
// SHA-256 hash is stored. Expiry is checked at acceptance time, not by a
// background sweep. An invitation can be accepted at most once.
type DepartmentInvitation struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	Email        string
	Role         MemberRole
	TokenHash    string
	InvitedBy    uuid.UUID
	ExpiresAt    time.Time
	AcceptedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired returns true if the invitation can no longer be accepted.
func (i *DepartmentInvitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IsAccepted returns true if the invitation has already been used.
func (i *DepartmentInvitation) IsAccepted() bool {
	return i.AcceptedAt != nil
}

// InviteResult is returned when an invitation is issued or rotated.
// Token is the raw token for the invitation email; it is never persisted.
type InviteResult struct {
	Invitation *DepartmentInvitation
	Token      string
}

// CreateDepartmentParams contains the parameters for creating a department.
type CreateDepartmentParams struct {
	Name     string
	OwnerID  uuid.UUID
	Tier     DepartmentTier
	MaxSeats int
}
