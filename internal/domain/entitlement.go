// Package domain contains core business types and interfaces.
//
// This file defines the entitlement resolver: a pure mapping from
// (user subscription state, department membership) to the set of resource
// limits in force for a request. Callers load state first and pass it in;
// the resolver performs no I/O and consults no clock of its own.
package domain

import (
	"time"
)

// Unlimited marks a limit as not enforced.
const Unlimited = -1

// Entitlement is the resolved set of resource limits applicable to a user
// at a point in time.
type Entitlement struct {
	MaxCounties     int
	MaxBookmarks    int
	MaxHistoryDays  int
	DailyQueryLimit int
}

// UnlimitedQueries returns true if the daily query counter should be bypassed.
func (e Entitlement) UnlimitedQueries() bool {
	return e.DailyQueryLimit == Unlimited
}

// tierEntitlements maps individual subscription tiers to their limits.
var tierEntitlements = map[SubscriptionTier]Entitlement{
	SubscriptionTierFree: {
		MaxCounties:     1,
		MaxBookmarks:    3,
		MaxHistoryDays:  7,
		DailyQueryLimit: 3,
	},
	SubscriptionTierPro: {
		MaxCounties:     10,
		MaxBookmarks:    100,
		MaxHistoryDays:  90,
		DailyQueryLimit: Unlimited,
	},
	SubscriptionTierEnterprise: {
		MaxCounties:     Unlimited,
		MaxBookmarks:    Unlimited,
		MaxHistoryDays:  365,
		DailyQueryLimit: Unlimited,
	},
}

// departmentEntitlements maps department tiers to the per-member limits they
// grant. Members inherit these when the department subscription is in force.
var departmentEntitlements = map[DepartmentTier]Entitlement{
	DepartmentTierStarter: {
		MaxCounties:     5,
		MaxBookmarks:    50,
		MaxHistoryDays:  30,
		DailyQueryLimit: Unlimited,
	},
	DepartmentTierProfessional: {
		MaxCounties:     25,
		MaxBookmarks:    250,
		MaxHistoryDays:  180,
		DailyQueryLimit: Unlimited,
	},
	DepartmentTierEnterprise: {
		MaxCounties:     Unlimited,
		MaxBookmarks:    Unlimited,
		MaxHistoryDays:  365,
		DailyQueryLimit: Unlimited,
	},
}

// TierEntitlement returns the limits for an individual tier,
// defaulting to the free tier for unknown values.
func TierEntitlement(tier SubscriptionTier) Entitlement {
	if e, ok := tierEntitlements[tier]; ok {
		return e
	}
	return tierEntitlements[SubscriptionTierFree]
}

// DepartmentEntitlement returns the per-member limits for a department tier,
// defaulting to starter for unknown values.
func DepartmentEntitlement(tier DepartmentTier) Entitlement {
	if e, ok := departmentEntitlements[tier]; ok {
		return e
	}
	return departmentEntitlements[DepartmentTierStarter]
}

// EntitlementResolver resolves entitlements from already-loaded state.
//
// GraceWindow is the external policy parameter for past-due subscriptions:
// a subscription that has been past_due for longer than the window resolves
// as free. It applies to users and departments alike.
type EntitlementResolver struct {
	GraceWindow time.Duration
}

// Resolve returns the entitlement in force for the user at the given instant.
// dept is the user's department, or nil when the user has no membership.
//
// A department entitlement in force always overrides a weaker personal
// entitlement, never the reverse: the result is the elementwise maximum of
// the two limit sets.
func (r EntitlementResolver) Resolve(now time.Time, user *User, dept *Department) Entitlement {
	personal := TierEntitlement(r.effectiveUserTier(now, user))

	if dept == nil {
		return personal
	}
	if !r.subscriptionInForce(now, dept.SubscriptionStatus, dept.SubscriptionEndDate, dept.PastDueSince) {
		return personal
	}

	return merge(personal, DepartmentEntitlement(dept.SubscriptionTier))
}

// effectiveUserTier applies the status rules to the stored tier:
// canceled subscriptions keep their tier until the period end; past_due
// subscriptions keep it for the grace window; everything else on a
// non-active status drops to free.
func (r EntitlementResolver) effectiveUserTier(now time.Time, user *User) SubscriptionTier {
	if user.Tier == SubscriptionTierFree || user.Tier == "" {
		return SubscriptionTierFree
	}
	if r.subscriptionInForce(now, user.SubscriptionStatus, user.SubscriptionEndDate, user.PastDueSince) {
		return user.Tier
	}
	return SubscriptionTierFree
}

func (r EntitlementResolver) subscriptionInForce(now time.Time, status SubscriptionStatus, endDate, pastDueSince *time.Time) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	case SubscriptionStatusCanceled:
		// Cancellation is effective at period end, not immediately.
		return endDate != nil && now.Before(*endDate)
	case SubscriptionStatusPastDue:
		if pastDueSince == nil {
			return true
		}
		return now.Sub(*pastDueSince) <= r.GraceWindow
	default:
		return false
	}
}

// merge returns the elementwise maximum of two entitlements,
// treating Unlimited as dominant.
func merge(a, b Entitlement) Entitlement {
	return Entitlement{
		MaxCounties:     maxLimit(a.MaxCounties, b.MaxCounties),
		MaxBookmarks:    maxLimit(a.MaxBookmarks, b.MaxBookmarks),
		MaxHistoryDays:  maxLimit(a.MaxHistoryDays, b.MaxHistoryDays),
		DailyQueryLimit: maxLimit(a.DailyQueryLimit, b.DailyQueryLimit),
	}
}

func maxLimit(a, b int) int {
	if a == Unlimited || b == Unlimited {
		return Unlimited
	}
	if a > b {
		return a
	}
	return b
}

// QuotaDecision is the outcome of a quota consumption attempt.
type QuotaDecision struct {
	Allowed   bool
	Remaining int // Unlimited when no daily limit applies
	Limit     int // Unlimited when no daily limit applies
}
