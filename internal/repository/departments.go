package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Department is the departments table row.
type Department struct {
	ID                   uuid.UUID
	Name                 string
	SubscriptionTier     string
	SubscriptionStatus   string
	SubscriptionEndDate  sql.NullTime
	PastDueSince         sql.NullTime
	MaxSeats             int32
	UsedSeats            int32
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DepartmentMember is the department_members table row.
type DepartmentMember struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	UserID       uuid.UUID
	Role         string
	CreatedAt    time.Time
}

const departmentColumns = `id, name, subscription_tier, subscription_status,
	subscription_end_date, past_due_since, max_seats, used_seats,
	stripe_customer_id, stripe_subscription_id, created_at, updated_at`

func scanDepartment(row *sql.Row) (Department, error) {
	var d Department
	err := row.Scan(
		&d.ID, &d.Name, &d.SubscriptionTier, &d.SubscriptionStatus,
		&d.SubscriptionEndDate, &d.PastDueSince, &d.MaxSeats, &d.UsedSeats,
		&d.StripeCustomerID, &d.StripeSubscriptionID, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

const createDepartment = `INSERT INTO departments (id, name, subscription_tier, max_seats, used_seats)
VALUES ($1, $2, $3, $4, 1)
RETURNING ` + departmentColumns

// CreateDepartmentParams are the parameters for CreateDepartment.
// used_seats starts at 1: the creator occupies the first seat as owner.
type CreateDepartmentParams struct {
	ID       uuid.UUID
	Name     string
	Tier     string
	MaxSeats int32
}

func (q *Queries) CreateDepartment(ctx context.Context, arg CreateDepartmentParams) (Department, error) {
	return scanDepartment(q.db.QueryRowContext(ctx, createDepartment,
		arg.ID, arg.Name, arg.Tier, arg.MaxSeats))
}

const getDepartmentByID = `SELECT ` + departmentColumns + ` FROM departments WHERE id = $1`

func (q *Queries) GetDepartmentByID(ctx context.Context, id uuid.UUID) (Department, error) {
	return scanDepartment(q.db.QueryRowContext(ctx, getDepartmentByID, id))
}

const getDepartmentByStripeCustomerID = `SELECT ` + departmentColumns + ` FROM departments WHERE stripe_customer_id = $1`

func (q *Queries) GetDepartmentByStripeCustomerID(ctx context.Context, customerID string) (Department, error) {
	return scanDepartment(q.db.QueryRowContext(ctx, getDepartmentByStripeCustomerID, customerID))
}

// incrementUsedSeats is the seat ceiling's guarded update. Two concurrent
// acceptances racing for the last seat serialize on the row: the statement
// that runs second sees used_seats = max_seats and affects zero rows.
const incrementUsedSeats = `UPDATE departments SET used_seats = used_seats + 1, updated_at = now()
WHERE id = $1 AND used_seats < max_seats`

// IncrementUsedSeats claims one seat. Returns the number of rows affected:
// 0 means the department is full and the caller must abort the enclosing
// transaction.
func (q *Queries) IncrementUsedSeats(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, incrementUsedSeats, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const decrementUsedSeats = `UPDATE departments SET used_seats = used_seats - 1, updated_at = now()
WHERE id = $1 AND used_seats > 0`

// DecrementUsedSeats releases one seat, guarded against going negative.
func (q *Queries) DecrementUsedSeats(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, decrementUsedSeats, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateDepartmentSubscription = `UPDATE departments SET
	subscription_tier = $2,
	subscription_status = $3,
	subscription_end_date = $4,
	past_due_since = $5,
	stripe_subscription_id = $6,
	updated_at = now()
WHERE id = $1`

// UpdateDepartmentSubscriptionParams are the parameters for
// UpdateDepartmentSubscription. Last-write-wins over the full snapshot.
type UpdateDepartmentSubscriptionParams struct {
	ID                   uuid.UUID
	SubscriptionTier     string
	SubscriptionStatus   string
	SubscriptionEndDate  sql.NullTime
	PastDueSince         sql.NullTime
	StripeSubscriptionID sql.NullString
}

func (q *Queries) UpdateDepartmentSubscription(ctx context.Context, arg UpdateDepartmentSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, updateDepartmentSubscription,
		arg.ID, arg.SubscriptionTier, arg.SubscriptionStatus,
		arg.SubscriptionEndDate, arg.PastDueSince, arg.StripeSubscriptionID)
	return err
}

const updateDepartmentStripeCustomer = `UPDATE departments SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateDepartmentStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := q.db.ExecContext(ctx, updateDepartmentStripeCustomer, id, customerID)
	return err
}

// =============================================================================
// Members
// =============================================================================

const memberColumns = `id, department_id, user_id, role, created_at`

func scanMember(row *sql.Row) (DepartmentMember, error) {
	var m DepartmentMember
	err := row.Scan(&m.ID, &m.DepartmentID, &m.UserID, &m.Role, &m.CreatedAt)
	return m, err
}

const createDepartmentMember = `INSERT INTO department_members (id, department_id, user_id, role)
VALUES ($1, $2, $3, $4)
RETURNING ` + memberColumns

// CreateDepartmentMemberParams are the parameters for CreateDepartmentMember.
type CreateDepartmentMemberParams struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	UserID       uuid.UUID
	Role         string
}

func (q *Queries) CreateDepartmentMember(ctx context.Context, arg CreateDepartmentMemberParams) (DepartmentMember, error) {
	return scanMember(q.db.QueryRowContext(ctx, createDepartmentMember,
		arg.ID, arg.DepartmentID, arg.UserID, arg.Role))
}

const getDepartmentMemberByUserID = `SELECT ` + memberColumns + ` FROM department_members WHERE user_id = $1`

// GetDepartmentMemberByUserID returns the user's membership.
// A user belongs to at most one department.
func (q *Queries) GetDepartmentMemberByUserID(ctx context.Context, userID uuid.UUID) (DepartmentMember, error) {
	return scanMember(q.db.QueryRowContext(ctx, getDepartmentMemberByUserID, userID))
}

const getDepartmentMember = `SELECT ` + memberColumns + ` FROM department_members
WHERE department_id = $1 AND user_id = $2`

func (q *Queries) GetDepartmentMember(ctx context.Context, departmentID, userID uuid.UUID) (DepartmentMember, error) {
	return scanMember(q.db.QueryRowContext(ctx, getDepartmentMember, departmentID, userID))
}

const deleteDepartmentMember = `DELETE FROM department_members
WHERE department_id = $1 AND user_id = $2 AND role <> 'owner'`

// DeleteDepartmentMember removes a member. Owners cannot be removed;
// ownership transfer is not supported.
func (q *Queries) DeleteDepartmentMember(ctx context.Context, departmentID, userID uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteDepartmentMember, departmentID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
