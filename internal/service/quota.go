// Package service contains the business logic layer.
//
// This file implements the daily query quota counter. The reset-check, limit
// check, and increment are one guarded UPDATE in the repository: there is no
// window in which two concurrent requests can both observe count < limit and
// both proceed, and no reset job exists anywhere.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/repository"
)

// QuotaService gates query consumption on the caller's resolved entitlement.
type QuotaService interface {
	// TryConsumeQuery attempts to consume one query from the user's daily
	// allowance. A denied outcome is a terminal result, not an error to retry.
	TryConsumeQuery(ctx context.Context, userID uuid.UUID) (*domain.QuotaDecision, error)

	// GetUsage reports current usage without consuming quota.
	GetUsage(ctx context.Context, userID uuid.UUID) (*domain.QuotaDecision, error)
}

type quotaService struct {
	queries      *repository.Queries
	entitlements EntitlementService
	logger       *slog.Logger
	now          func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(queries *repository.Queries, entitlements EntitlementService, logger *slog.Logger) QuotaService {
	return &quotaService{
		queries:      queries,
		entitlements: entitlements,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *quotaService) TryConsumeQuery(ctx context.Context, userID uuid.UUID) (*domain.QuotaDecision, error) {
	const op = "quota.try_consume_query"

	// The limit is resolved at call time, never cached on the user row,
	// so a mid-day upgrade applies to the very next request.
	ent, user, err := s.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsDisabled() {
		return nil, domain.Forbidden(op, "Account is disabled")
	}

	if ent.UnlimitedQueries() {
		return &domain.QuotaDecision{
			Allowed:   true,
			Remaining: domain.Unlimited,
			Limit:     domain.Unlimited,
		}, nil
	}

	count, err := s.queries.ConsumeDailyQuery(ctx, repository.ConsumeDailyQueryParams{
		UserID: userID,
		Today:  s.now().UTC(),
		Limit:  int32(ent.DailyQueryLimit),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.QuotaDenials.Inc()
			s.logger.Info("daily query quota exceeded",
				"user_id", userID,
				"limit", ent.DailyQueryLimit,
			)
			return &domain.QuotaDecision{
				Allowed:   false,
				Remaining: 0,
				Limit:     ent.DailyQueryLimit,
			}, nil
		}
		return nil, domain.Internal(err, op, "Failed to consume query quota")
	}

	return &domain.QuotaDecision{
		Allowed:   true,
		Remaining: ent.DailyQueryLimit - int(count),
		Limit:     ent.DailyQueryLimit,
	}, nil
}

func (s *quotaService) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.QuotaDecision, error) {
	ent, user, err := s.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ent.UnlimitedQueries() {
		return &domain.QuotaDecision{
			Allowed:   true,
			Remaining: domain.Unlimited,
			Limit:     domain.Unlimited,
		}, nil
	}

	used := user.QueriesUsedToday(s.now().UTC())
	remaining := ent.DailyQueryLimit - used
	if remaining < 0 {
		// The limit shrank mid-day (downgrade); consumed quota is not
		// clawed back, the user simply gets no further queries today.
		remaining = 0
	}

	return &domain.QuotaDecision{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     ent.DailyQueryLimit,
	}, nil
}
