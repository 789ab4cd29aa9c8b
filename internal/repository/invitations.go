package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DepartmentInvitation is the department_invitations table row.
type DepartmentInvitation struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	Email        string
	Role         string
	TokenHash    string
	InvitedBy    uuid.UUID
	ExpiresAt    time.Time
	AcceptedAt   sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const invitationColumns = `id, department_id, email, role, token_hash, invited_by,
	expires_at, accepted_at, created_at, updated_at`

func scanInvitation(row *sql.Row) (DepartmentInvitation, error) {
	var i DepartmentInvitation
	err := row.Scan(
		&i.ID, &i.DepartmentID, &i.Email, &i.Role, &i.TokenHash, &i.InvitedBy,
		&i.ExpiresAt, &i.AcceptedAt, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

// upsertInvitation makes invitation issuance idempotent per pending
// (department_id, email) pair: re-inviting rotates the token and expiry on
// the existing row instead of creating a second pending invitation. The
// conflict target is the partial unique index on pending invitations.
const upsertInvitation = `INSERT INTO department_invitations
	(id, department_id, email, role, token_hash, invited_by, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (department_id, email) WHERE accepted_at IS NULL
DO UPDATE SET
	role = EXCLUDED.role,
	token_hash = EXCLUDED.token_hash,
	invited_by = EXCLUDED.invited_by,
	expires_at = EXCLUDED.expires_at,
	updated_at = now()
RETURNING ` + invitationColumns

// UpsertInvitationParams are the parameters for UpsertInvitation.
type UpsertInvitationParams struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	Email        string
	Role         string
	TokenHash    string
	InvitedBy    uuid.UUID
	ExpiresAt    time.Time
}

func (q *Queries) UpsertInvitation(ctx context.Context, arg UpsertInvitationParams) (DepartmentInvitation, error) {
	return scanInvitation(q.db.QueryRowContext(ctx, upsertInvitation,
		arg.ID, arg.DepartmentID, arg.Email, arg.Role, arg.TokenHash,
		arg.InvitedBy, arg.ExpiresAt))
}

const getInvitationByTokenHash = `SELECT ` + invitationColumns + `
FROM department_invitations WHERE token_hash = $1`

func (q *Queries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (DepartmentInvitation, error) {
	return scanInvitation(q.db.QueryRowContext(ctx, getInvitationByTokenHash, tokenHash))
}

const getInvitationByID = `SELECT ` + invitationColumns + `
FROM department_invitations WHERE id = $1`

func (q *Queries) GetInvitationByID(ctx context.Context, id uuid.UUID) (DepartmentInvitation, error) {
	return scanInvitation(q.db.QueryRowContext(ctx, getInvitationByID, id))
}

// markInvitationAccepted stamps accepted_at, guarded so a second acceptance
// attempt (including a concurrent one) affects zero rows.
const markInvitationAccepted = `UPDATE department_invitations
SET accepted_at = now(), updated_at = now()
WHERE id = $1 AND accepted_at IS NULL`

// MarkInvitationAccepted returns the number of rows affected: 0 means the
// invitation was already accepted.
func (q *Queries) MarkInvitationAccepted(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, markInvitationAccepted, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
