package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 provides good security (~250ms on modern hardware) while being
	// fast enough for login flows.
	BcryptCost = 12

	// SessionTokenBytes is the number of random bytes for session tokens.
	// 32 bytes = 256 bits of entropy; the token is hex-encoded to 64
	// characters for storage and transmission.
	SessionTokenBytes = 32

	// SessionDuration is how long a session remains valid.
	SessionDuration = 7 * 24 * time.Hour

	// MinPasswordLength is the minimum password length.
	MinPasswordLength = 8

	// MaxPasswordLength prevents DoS via bcrypt on very long passwords.
	// bcrypt truncates at 72 bytes anyway; we reject earlier for clarity.
	MaxPasswordLength = 72
)

// UserService defines the interface for user account operations.
type UserService interface {
	// Register creates a new user account on the free tier.
	// Returns domain.ECONFLICT if the email is already registered.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error)

	// Login authenticates a user and creates a new session.
	// Returns the user and raw session token on success.
	// Returns domain.EUNAUTHORIZED for invalid credentials or a disabled
	// account, with the same message for both so accounts cannot be probed.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token. Idempotent.
	Logout(ctx context.Context, token string) error

	// GetByID retrieves a user by ID.
	// Returns domain.ENOTFOUND if the user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken validates a session token and returns its user.
	// Returns domain.EUNAUTHORIZED if the token is invalid or expired, or
	// the account is disabled.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// GetByStripeCustomerID retrieves a user by their Stripe customer ID.
	// Returns domain.ENOTFOUND if no user has that customer ID.
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error)

	// ChangeRole changes a user's platform role. The actor must be an admin
	// and may not change their own role. The role change and its audit entry
	// commit in one transaction.
	ChangeRole(ctx context.Context, params domain.RoleChangeParams) error

	// DeleteUser soft-disables an account. Existing data is retained; the
	// account can no longer authenticate. The disable and its audit entry
	// commit in one transaction. Idempotent: disabling a disabled account
	// changes nothing and writes no audit entry.
	DeleteUser(ctx context.Context, targetID, actorID uuid.UUID) error

	// UpdateStripeCustomer saves the Stripe customer ID for a user.
	UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error

	// DeleteExpiredSessions removes all expired sessions. Called
	// periodically as a cleanup task.
	DeleteExpiredSessions(ctx context.Context) error
}

type userService struct {
	db      *sql.DB
	queries *repository.Queries
	audit   AuditService
	logger  *slog.Logger
}

// NewUserService creates a new UserService instance.
func NewUserService(db *sql.DB, queries *repository.Queries, audit AuditService, logger *slog.Logger) UserService {
	return &userService{
		db:      db,
		queries: queries,
		audit:   audit,
		logger:  logger,
	}
}

// Register creates a new user account.
//
// The email uniqueness race is settled by the database constraint: if two
// registrations for the same address interleave, one insert fails with a
// unique violation and is reported as a conflict.
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	const op = "user.register"

	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Name = strings.TrimSpace(params.Name)

	if params.Email == "" || !strings.Contains(params.Email, "@") {
		return nil, domain.Invalid(op, "A valid email address is required")
	}
	if params.Name == "" {
		return nil, domain.Invalid(op, "Name is required")
	}
	if len(params.Password) < MinPasswordLength {
		return nil, domain.Invalid(op, "Password must be at least 8 characters")
	}
	if len(params.Password) > MaxPasswordLength {
		return nil, domain.Invalid(op, "Password must be at most 72 characters")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	repoUser, err := s.queries.CreateUser(ctx, repository.CreateUserParams{
		ID:           uuid.New(),
		Email:        params.Email,
		PasswordHash: string(passwordHash),
		Name:         params.Name,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.Conflict(op, "Email already registered")
		}
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	user := toDomainUser(repoUser)
	user.PasswordHash = ""

	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// Login authenticates a user and creates a session.
//
// A missing account still pays for one bcrypt comparison so the response
// time does not reveal whether the email exists.
func (s *userService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "user.login"

	email = strings.ToLower(strings.TrimSpace(email))

	repoUser, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dummyHash := "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW" // bcrypt hash of "dummy"
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(repoUser.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}
	if repoUser.Status == string(domain.UserStatusDisabled) {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	err = s.queries.CreateSession(ctx, repository.CreateSessionParams{
		ID:        uuid.New(),
		UserID:    repoUser.ID,
		TokenHash: hashToken(token),
		ExpiresAt: time.Now().UTC().Add(SessionDuration),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	user := toDomainUser(repoUser)
	user.PasswordHash = ""

	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.LoginResult{
		User:  user,
		Token: token,
	}, nil
}

func (s *userService) Logout(ctx context.Context, token string) error {
	const op = "user.logout"

	// Logout is idempotent; malformed tokens simply match nothing.
	if len(token) != SessionTokenBytes*2 {
		return nil
	}

	if err := s.queries.DeleteSessionByTokenHash(ctx, hashToken(token)); err != nil {
		return domain.Internal(err, op, "Failed to delete session")
	}
	return nil
}

func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "user.get_by_id"

	repoUser, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	return toDomainUser(repoUser), nil
}

func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "user.get_by_session"

	if len(token) != SessionTokenBytes*2 {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	repoUser, err := s.queries.GetUserBySessionTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session user")
	}

	user := toDomainUser(repoUser)
	if user.IsDisabled() {
		return nil, domain.Unauthorized(op, "Invalid session")
	}
	return user, nil
}

func (s *userService) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error) {
	const op = "user.get_by_stripe_customer"

	repoUser, err := s.queries.GetUserByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", stripeCustomerID)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	return toDomainUser(repoUser), nil
}

func (s *userService) ChangeRole(ctx context.Context, params domain.RoleChangeParams) error {
	const op = "user.change_role"

	if params.NewRole != domain.UserRoleUser && params.NewRole != domain.UserRoleAdmin {
		return domain.Invalid(op, "Unknown role")
	}
	if params.ActorID == params.TargetID {
		return domain.Invalid(op, "Admins cannot change their own role")
	}

	actor, err := s.queries.GetUserByID(ctx, params.ActorID)
	if err != nil {
		return domain.Internal(err, op, "Failed to load actor")
	}
	if actor.Role != string(domain.UserRoleAdmin) {
		return domain.Forbidden(op, "Only admins can change roles")
	}

	target, err := s.queries.GetUserByID(ctx, params.TargetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "user", params.TargetID.String())
		}
		return domain.Internal(err, op, "Failed to load target user")
	}
	if target.Role == string(params.NewRole) {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	if err := qtx.UpdateUserRole(ctx, params.TargetID, string(params.NewRole)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "user", params.TargetID.String())
		}
		return domain.Internal(err, op, "Failed to update role")
	}

	// If the audit entry cannot be written, the role change rolls back with
	// it. No unaudited privilege changes.
	err = s.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    params.ActorID,
		Action:     domain.AuditUserRoleChanged,
		TargetType: domain.AuditTargetUser,
		TargetID:   params.TargetID.String(),
		Details:    domain.ChangeDetails(target.Role, string(params.NewRole)),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit role change")
	}

	s.logger.Info("user role changed",
		"actor_id", params.ActorID, "target_id", params.TargetID,
		"old_role", target.Role, "new_role", params.NewRole)
	return nil
}

func (s *userService) DeleteUser(ctx context.Context, targetID, actorID uuid.UUID) error {
	const op = "user.delete"

	if targetID != actorID {
		actor, err := s.queries.GetUserByID(ctx, actorID)
		if err != nil {
			return domain.Internal(err, op, "Failed to load actor")
		}
		if actor.Role != string(domain.UserRoleAdmin) {
			return domain.Forbidden(op, "Only admins can delete other accounts")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	if err := qtx.DisableUser(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already disabled, or no such user. Either way nothing changed.
			return nil
		}
		return domain.Internal(err, op, "Failed to disable user")
	}

	err = s.audit.Record(ctx, qtx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.AuditUserDeleted,
		TargetType: domain.AuditTargetUser,
		TargetID:   targetID.String(),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit user deletion")
	}

	s.logger.Info("user disabled", "target_id", targetID, "actor_id", actorID)
	return nil
}

func (s *userService) UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	const op = "user.update_stripe_customer"

	if err := s.queries.UpdateUserStripeCustomer(ctx, userID, stripeCustomerID); err != nil {
		return domain.Internal(err, op, "Failed to save Stripe customer ID")
	}
	return nil
}

func (s *userService) DeleteExpiredSessions(ctx context.Context) error {
	const op = "user.delete_expired_sessions"

	if err := s.queries.DeleteExpiredSessions(ctx); err != nil {
		return domain.Internal(err, op, "Failed to delete expired sessions")
	}
	return nil
}

// generateSessionToken creates a cryptographically secure random token.
func generateSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
