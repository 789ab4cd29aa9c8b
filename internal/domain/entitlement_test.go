package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var resolveNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestResolve_PersonalTiers(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	tests := []struct {
		name string
		user User
		want Entitlement
	}{
		{
			name: "free tier",
			user: User{Tier: SubscriptionTierFree},
			want: Entitlement{MaxCounties: 1, MaxBookmarks: 3, MaxHistoryDays: 7, DailyQueryLimit: 3},
		},
		{
			name: "active pro",
			user: User{Tier: SubscriptionTierPro, SubscriptionStatus: SubscriptionStatusActive},
			want: Entitlement{MaxCounties: 10, MaxBookmarks: 100, MaxHistoryDays: 90, DailyQueryLimit: Unlimited},
		},
		{
			name: "trialing enterprise",
			user: User{Tier: SubscriptionTierEnterprise, SubscriptionStatus: SubscriptionStatusTrialing},
			want: Entitlement{MaxCounties: Unlimited, MaxBookmarks: Unlimited, MaxHistoryDays: 365, DailyQueryLimit: Unlimited},
		},
		{
			name: "empty tier defaults to free",
			user: User{},
			want: Entitlement{MaxCounties: 1, MaxBookmarks: 3, MaxHistoryDays: 7, DailyQueryLimit: 3},
		},
		{
			name: "unknown tier defaults to free",
			user: User{Tier: "platinum", SubscriptionStatus: SubscriptionStatusActive},
			want: Entitlement{MaxCounties: 1, MaxBookmarks: 3, MaxHistoryDays: 7, DailyQueryLimit: 3},
		},
		{
			name: "inactive pro drops to free",
			user: User{Tier: SubscriptionTierPro, SubscriptionStatus: SubscriptionStatusInactive},
			want: Entitlement{MaxCounties: 1, MaxBookmarks: 3, MaxHistoryDays: 7, DailyQueryLimit: 3},
		},
		{
			name: "unpaid pro drops to free",
			user: User{Tier: SubscriptionTierPro, SubscriptionStatus: SubscriptionStatusUnpaid},
			want: Entitlement{MaxCounties: 1, MaxBookmarks: 3, MaxHistoryDays: 7, DailyQueryLimit: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve(resolveNow, &tt.user, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_CanceledKeepsTierUntilPeriodEnd(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	future := resolveNow.Add(10 * 24 * time.Hour)
	past := resolveNow.Add(-time.Hour)

	stillPaid := User{
		Tier:                SubscriptionTierPro,
		SubscriptionStatus:  SubscriptionStatusCanceled,
		SubscriptionEndDate: &future,
	}
	got := resolver.Resolve(resolveNow, &stillPaid, nil)
	assert.Equal(t, Unlimited, got.DailyQueryLimit, "canceled subscription keeps pro limits until period end")

	lapsed := User{
		Tier:                SubscriptionTierPro,
		SubscriptionStatus:  SubscriptionStatusCanceled,
		SubscriptionEndDate: &past,
	}
	got = resolver.Resolve(resolveNow, &lapsed, nil)
	assert.Equal(t, 3, got.DailyQueryLimit, "canceled subscription reverts to free after period end")

	// A canceled subscription with no recorded end date cannot be in force.
	noEnd := User{
		Tier:               SubscriptionTierPro,
		SubscriptionStatus: SubscriptionStatusCanceled,
	}
	got = resolver.Resolve(resolveNow, &noEnd, nil)
	assert.Equal(t, 3, got.DailyQueryLimit)
}

func TestResolve_PastDueGraceWindow(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	withinGrace := resolveNow.Add(-24 * time.Hour)
	beyondGrace := resolveNow.Add(-96 * time.Hour)

	inGrace := User{
		Tier:               SubscriptionTierPro,
		SubscriptionStatus: SubscriptionStatusPastDue,
		PastDueSince:       &withinGrace,
	}
	got := resolver.Resolve(resolveNow, &inGrace, nil)
	assert.Equal(t, 100, got.MaxBookmarks, "past_due within grace keeps pro limits")

	expired := User{
		Tier:               SubscriptionTierPro,
		SubscriptionStatus: SubscriptionStatusPastDue,
		PastDueSince:       &beyondGrace,
	}
	got = resolver.Resolve(resolveNow, &expired, nil)
	assert.Equal(t, 3, got.MaxBookmarks, "past_due beyond grace drops to free")

	// Without a recorded first-failure time the grace window cannot be
	// measured, so the subscription stays in force.
	unstamped := User{
		Tier:               SubscriptionTierPro,
		SubscriptionStatus: SubscriptionStatusPastDue,
	}
	got = resolver.Resolve(resolveNow, &unstamped, nil)
	assert.Equal(t, 100, got.MaxBookmarks)
}

func TestResolve_DepartmentOverridesWeakerPersonal(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	freeUser := User{Tier: SubscriptionTierFree}
	dept := Department{
		SubscriptionTier:   DepartmentTierProfessional,
		SubscriptionStatus: SubscriptionStatusActive,
	}

	got := resolver.Resolve(resolveNow, &freeUser, &dept)
	assert.Equal(t, Entitlement{
		MaxCounties:     25,
		MaxBookmarks:    250,
		MaxHistoryDays:  180,
		DailyQueryLimit: Unlimited,
	}, got)
}

func TestResolve_PersonalNeverWeakenedByDepartment(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	// Enterprise personal vs starter department: every limit should come out
	// at least as high as the stronger of the two.
	entUser := User{Tier: SubscriptionTierEnterprise, SubscriptionStatus: SubscriptionStatusActive}
	dept := Department{
		SubscriptionTier:   DepartmentTierStarter,
		SubscriptionStatus: SubscriptionStatusActive,
	}

	got := resolver.Resolve(resolveNow, &entUser, &dept)
	assert.Equal(t, Unlimited, got.MaxCounties)
	assert.Equal(t, Unlimited, got.MaxBookmarks)
	assert.Equal(t, 365, got.MaxHistoryDays)
	assert.Equal(t, Unlimited, got.DailyQueryLimit)
}

func TestResolve_LapsedDepartmentIgnored(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	beyondGrace := resolveNow.Add(-200 * time.Hour)
	user := User{Tier: SubscriptionTierFree}
	dept := Department{
		SubscriptionTier:   DepartmentTierEnterprise,
		SubscriptionStatus: SubscriptionStatusPastDue,
		PastDueSince:       &beyondGrace,
	}

	got := resolver.Resolve(resolveNow, &user, &dept)
	assert.Equal(t, 3, got.MaxBookmarks, "a lapsed department grants nothing")
}

func TestResolve_MixedUnlimitedAndFinite(t *testing.T) {
	resolver := EntitlementResolver{GraceWindow: 72 * time.Hour}

	// Pro personal (unlimited queries, 90-day history) with a starter
	// department (30-day history): the merge takes the max per limit.
	proUser := User{Tier: SubscriptionTierPro, SubscriptionStatus: SubscriptionStatusActive}
	dept := Department{
		SubscriptionTier:   DepartmentTierStarter,
		SubscriptionStatus: SubscriptionStatusActive,
	}

	got := resolver.Resolve(resolveNow, &proUser, &dept)
	assert.Equal(t, 10, got.MaxCounties)
	assert.Equal(t, 100, got.MaxBookmarks)
	assert.Equal(t, 90, got.MaxHistoryDays)
	assert.Equal(t, Unlimited, got.DailyQueryLimit)
}

func TestUnlimitedQueries(t *testing.T) {
	assert.True(t, Entitlement{DailyQueryLimit: Unlimited}.UnlimitedQueries())
	assert.False(t, Entitlement{DailyQueryLimit: 3}.UnlimitedQueries())
}
