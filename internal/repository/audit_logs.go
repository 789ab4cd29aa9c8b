package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// AuditLog is the audit_logs table row.
//
// This store is append-only: the package exposes insert and list operations
// only. No update or delete statement exists for audit rows anywhere in the
// codebase.
type AuditLog struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	Action     string
	TargetType string
	TargetID   string
	Details    pqtype.NullRawMessage
	CreatedAt  time.Time
}

const insertAuditLog = `INSERT INTO audit_logs (id, actor_user_id, action, target_type, target_id, details)
VALUES ($1, $2, $3, $4, $5, $6)`

// InsertAuditLogParams are the parameters for InsertAuditLog.
type InsertAuditLogParams struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	Action     string
	TargetType string
	TargetID   string
	Details    pqtype.NullRawMessage
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.ExecContext(ctx, insertAuditLog,
		arg.ID, arg.ActorID, arg.Action, arg.TargetType, arg.TargetID, arg.Details)
	return err
}

const listAuditLogsByTarget = `SELECT id, actor_user_id, action, target_type, target_id, details, created_at
FROM audit_logs
WHERE target_type = $1 AND target_id = $2
ORDER BY created_at DESC
LIMIT $3`

func (q *Queries) ListAuditLogsByTarget(ctx context.Context, targetType, targetID string, limit int32) ([]AuditLog, error) {
	rows, err := q.db.QueryContext(ctx, listAuditLogsByTarget, targetType, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Action, &a.TargetType, &a.TargetID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
