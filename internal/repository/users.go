package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is the users table row.
type User struct {
	ID                   uuid.UUID
	Email                string
	PasswordHash         string
	Name                 string
	Role                 string
	Status               string
	Tier                 string
	SubscriptionStatus   string
	SubscriptionEndDate  sql.NullTime
	PastDueSince         sql.NullTime
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	QueryCountToday      int32
	LastQueryDate        sql.NullTime
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const userColumns = `id, email, password_hash, name, role, status, tier,
	subscription_status, subscription_end_date, past_due_since,
	stripe_customer_id, stripe_subscription_id,
	query_count_today, last_query_date, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Status, &u.Tier,
		&u.SubscriptionStatus, &u.SubscriptionEndDate, &u.PastDueSince,
		&u.StripeCustomerID, &u.StripeSubscriptionID,
		&u.QueryCountToday, &u.LastQueryDate, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

const getUserByStripeCustomerID = `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`

func (q *Queries) GetUserByStripeCustomerID(ctx context.Context, customerID string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByStripeCustomerID, customerID))
}

const createUser = `INSERT INTO users (id, email, password_hash, name)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

// CreateUserParams are the parameters for CreateUser.
type CreateUserParams struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Name         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, createUser,
		arg.ID, arg.Email, arg.PasswordHash, arg.Name))
}

const updateUserRole = `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error {
	result, err := q.db.ExecContext(ctx, updateUserRole, id, role)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const disableUser = `UPDATE users SET status = 'disabled', updated_at = now()
WHERE id = $1 AND status <> 'disabled'`

// DisableUser soft-deletes a user. Returns sql.ErrNoRows if the user is
// missing or already disabled, so callers can keep the operation idempotent
// without double-auditing.
func (q *Queries) DisableUser(ctx context.Context, id uuid.UUID) error {
	result, err := q.db.ExecContext(ctx, disableUser, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const updateUserSubscription = `UPDATE users SET
	tier = $2,
	subscription_status = $3,
	subscription_end_date = $4,
	past_due_since = $5,
	stripe_subscription_id = $6,
	updated_at = now()
WHERE id = $1`

// UpdateUserSubscriptionParams are the parameters for UpdateUserSubscription.
// The whole subscription snapshot is written at once so that out-of-order
// redeliveries stay last-write-wins on these fields.
type UpdateUserSubscriptionParams struct {
	ID                   uuid.UUID
	Tier                 string
	SubscriptionStatus   string
	SubscriptionEndDate  sql.NullTime
	PastDueSince         sql.NullTime
	StripeSubscriptionID sql.NullString
}

func (q *Queries) UpdateUserSubscription(ctx context.Context, arg UpdateUserSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, updateUserSubscription,
		arg.ID, arg.Tier, arg.SubscriptionStatus,
		arg.SubscriptionEndDate, arg.PastDueSince, arg.StripeSubscriptionID)
	return err
}

const updateUserStripeCustomer = `UPDATE users SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateUserStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := q.db.ExecContext(ctx, updateUserStripeCustomer, id, customerID)
	return err
}

// consumeDailyQuery is the quota counter's guarded update. The calendar-day
// rollover and the limit check are atomic with the increment: exactly one of
// the WHERE branches can match, and RowsAffected is the allow/deny verdict.
// There is no reset job; a stale last_query_date means an implicit zero.
const consumeDailyQuery = `UPDATE users SET
	query_count_today = CASE
		WHEN last_query_date IS DISTINCT FROM $2::date THEN 1
		ELSE query_count_today + 1
	END,
	last_query_date = $2::date,
	updated_at = now()
WHERE id = $1
  AND (last_query_date IS DISTINCT FROM $2::date OR query_count_today < $3)
RETURNING query_count_today`

// ConsumeDailyQueryParams are the parameters for ConsumeDailyQuery.
type ConsumeDailyQueryParams struct {
	UserID uuid.UUID
	Today  time.Time
	Limit  int32
}

// ConsumeDailyQuery atomically increments the user's daily query counter,
// rolling it over when the stored date is not Today. Returns the count after
// the increment when the query was admitted, or sql.ErrNoRows when the limit
// is hit: the guarded update matching zero rows is the denial.
//
// Today is sent as a plain yyyy-mm-dd literal, not a timestamp: casting a
// timestamptz with ::date would resolve the day in the session timezone,
// and the day boundary must come from the service, not server config.
func (q *Queries) ConsumeDailyQuery(ctx context.Context, arg ConsumeDailyQueryParams) (int32, error) {
	var count int32
	today := arg.Today.Format("2006-01-02")
	err := q.db.QueryRowContext(ctx, consumeDailyQuery, arg.UserID, today, arg.Limit).Scan(&count)
	return count, err
}

// =============================================================================
// Sessions
// =============================================================================

const createSession = `INSERT INTO sessions (id, user_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)`

// CreateSessionParams are the parameters for CreateSession.
type CreateSessionParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) error {
	_, err := q.db.ExecContext(ctx, createSession, arg.ID, arg.UserID, arg.TokenHash, arg.ExpiresAt)
	return err
}

const getUserBySessionTokenHash = `SELECT ` + userColumns + ` FROM users
WHERE id = (
	SELECT user_id FROM sessions WHERE token_hash = $1 AND expires_at > now()
)`

func (q *Queries) GetUserBySessionTokenHash(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserBySessionTokenHash, tokenHash))
}

const deleteSessionByTokenHash = `DELETE FROM sessions WHERE token_hash = $1`

func (q *Queries) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionByTokenHash, tokenHash)
	return err
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= now()`

func (q *Queries) DeleteExpiredSessions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteExpiredSessions)
	return err
}
