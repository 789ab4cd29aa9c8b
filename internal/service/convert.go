package service

import (
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

// toDomainUser converts a repository user row to the domain representation.
func toDomainUser(u repository.User) *domain.User {
	return &domain.User{
		ID:                   u.ID,
		Email:                u.Email,
		PasswordHash:         u.PasswordHash,
		Name:                 u.Name,
		Role:                 domain.UserRole(u.Role),
		Status:               domain.UserStatus(u.Status),
		Tier:                 domain.SubscriptionTier(u.Tier),
		SubscriptionStatus:   domain.SubscriptionStatus(u.SubscriptionStatus),
		SubscriptionEndDate:  domain.NullTimeValue(u.SubscriptionEndDate),
		PastDueSince:         domain.NullTimeValue(u.PastDueSince),
		StripeCustomerID:     domain.NullStringValue(u.StripeCustomerID),
		StripeSubscriptionID: domain.NullStringValue(u.StripeSubscriptionID),
		QueryCountToday:      int(u.QueryCountToday),
		LastQueryDate:        domain.NullTimeValue(u.LastQueryDate),
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

// toDomainDepartment converts a repository department row to the domain
// representation.
func toDomainDepartment(d repository.Department) *domain.Department {
	return &domain.Department{
		ID:                   d.ID,
		Name:                 d.Name,
		SubscriptionTier:     domain.DepartmentTier(d.SubscriptionTier),
		SubscriptionStatus:   domain.SubscriptionStatus(d.SubscriptionStatus),
		SubscriptionEndDate:  domain.NullTimeValue(d.SubscriptionEndDate),
		PastDueSince:         domain.NullTimeValue(d.PastDueSince),
		MaxSeats:             int(d.MaxSeats),
		UsedSeats:            int(d.UsedSeats),
		StripeCustomerID:     domain.NullStringValue(d.StripeCustomerID),
		StripeSubscriptionID: domain.NullStringValue(d.StripeSubscriptionID),
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

// toDomainMember converts a repository member row to the domain representation.
func toDomainMember(m repository.DepartmentMember) *domain.DepartmentMember {
	return &domain.DepartmentMember{
		ID:           m.ID,
		DepartmentID: m.DepartmentID,
		UserID:       m.UserID,
		Role:         domain.MemberRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

// toDomainInvitation converts a repository invitation row to the domain
// representation.
func toDomainInvitation(i repository.DepartmentInvitation) *domain.DepartmentInvitation {
	return &domain.DepartmentInvitation{
		ID:           i.ID,
		DepartmentID: i.DepartmentID,
		Email:        i.Email,
		Role:         domain.MemberRole(i.Role),
		TokenHash:    i.TokenHash,
		InvitedBy:    i.InvitedBy,
		ExpiresAt:    i.ExpiresAt,
		AcceptedAt:   domain.NullTimeValue(i.AcceptedAt),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}
