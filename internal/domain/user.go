// Package domain contains core business types and interfaces.
//
// This file defines the User domain type and related types for authentication
// and subscription state. These types are separate from the repository models
// so business logic never depends on sql.Null* plumbing.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the platform-level role of a user.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// UserStatus represents whether an account is usable.
// Users are never hard-deleted; deletion soft-disables the account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// SubscriptionStatus represents the possible states of a subscription,
// for both individual users and departments.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// SubscriptionTier represents the pricing tier of an individual subscription.
type SubscriptionTier string

const (
	SubscriptionTierFree       SubscriptionTier = "free"
	SubscriptionTierPro        SubscriptionTier = "pro"
	SubscriptionTierEnterprise SubscriptionTier = "enterprise"
)

// User represents a registered user of the TitleScout platform.
//
// QueryCountToday is only meaningful relative to LastQueryDate: a user whose
// LastQueryDate is not today is treated as having consumed zero queries,
// regardless of the stored count. The rollover happens lazily inside the
// quota counter's guarded update, never via a scheduled reset.
type User struct {
	ID                   uuid.UUID
	Email                string
	PasswordHash         string // Never expose this in API responses
	Name                 string
	Role                 UserRole
	Status               UserStatus
	Tier                 SubscriptionTier
	SubscriptionStatus   SubscriptionStatus
	SubscriptionEndDate  *time.Time
	PastDueSince         *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	QueryCountToday      int
	LastQueryDate        *time.Time // calendar date, stored without time of day
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsDisabled returns true if the account has been soft-deleted.
func (u *User) IsDisabled() bool {
	return u.Status == UserStatusDisabled
}

// IsAdmin returns true if the user has platform admin rights.
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// QueriesUsedToday returns the count of queries consumed on the given
// calendar day, applying the implicit rollover when LastQueryDate differs.
func (u *User) QueriesUsedToday(today time.Time) int {
	if u.LastQueryDate == nil || !sameCalendarDay(*u.LastQueryDate, today) {
		return 0
	}
	return u.QueryCountToday
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Session represents an authenticated session.
//
// Sessions are stored in the database with a hashed token.
// The raw token is only given to the client once (at login).
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string // SHA-256 hash of the session token
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// LoginResult contains the result of a successful login.
type LoginResult struct {
	User  *User
	Token string // Raw session token (not hashed) - only returned once
}

// RegisterParams contains the parameters for creating a new account.
type RegisterParams struct {
	Email    string
	Password string
	Name     string
}

// RoleChangeParams contains the parameters for an admin role change.
type RoleChangeParams struct {
	ActorID  uuid.UUID
	TargetID uuid.UUID
	NewRole  UserRole
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
