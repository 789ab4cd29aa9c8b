// Package service contains the business logic layer.
//
// This file implements entitlement resolution for a user ID: it loads the
// user and any department membership, then delegates to the pure resolver in
// the domain package. Resolution happens at call time on every gated request
// so a mid-day tier change takes effect on the very next request; nothing is
// cached on the user row or in process memory.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

// EntitlementService resolves the limits in force for a user.
type EntitlementService interface {
	// Resolve returns the entitlement for the user along with the loaded
	// user state, so callers that also need the user avoid a second read.
	Resolve(ctx context.Context, userID uuid.UUID) (domain.Entitlement, *domain.User, error)
}

type entitlementService struct {
	queries  *repository.Queries
	resolver domain.EntitlementResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
// graceWindow is the past-due policy window from configuration.
func NewEntitlementService(queries *repository.Queries, graceWindow time.Duration, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		queries:  queries,
		resolver: domain.EntitlementResolver{GraceWindow: graceWindow},
		logger:   logger,
		now:      time.Now,
	}
}

func (s *entitlementService) Resolve(ctx context.Context, userID uuid.UUID) (domain.Entitlement, *domain.User, error) {
	const op = "entitlement.resolve"

	row, err := s.queries.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entitlement{}, nil, domain.NotFound(op, "user", userID.String())
		}
		return domain.Entitlement{}, nil, domain.Internal(err, op, "Failed to load user")
	}
	user := toDomainUser(row)

	dept, err := s.loadDepartment(ctx, userID)
	if err != nil {
		return domain.Entitlement{}, nil, err
	}

	return s.resolver.Resolve(s.now().UTC(), user, dept), user, nil
}

// loadDepartment returns the user's department, or nil without error when
// the user has no membership.
func (s *entitlementService) loadDepartment(ctx context.Context, userID uuid.UUID) (*domain.Department, error) {
	const op = "entitlement.load_department"

	member, err := s.queries.GetDepartmentMemberByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Internal(err, op, "Failed to load membership")
	}

	row, err := s.queries.GetDepartmentByID(ctx, member.DepartmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Membership without a department is a data bug; resolve as if
			// the user had none rather than failing the request.
			s.logger.Error("membership references missing department",
				"user_id", userID, "department_id", member.DepartmentID)
			return nil, nil
		}
		return nil, domain.Internal(err, op, "Failed to load department")
	}
	return toDomainDepartment(row), nil
}
