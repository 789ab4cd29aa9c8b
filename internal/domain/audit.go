// Package domain contains core business types and interfaces.
//
// This file defines the audit log types. Audit entries are append-only and
// written in the same transaction as the privileged state change they
// describe: a failed audit write rolls the change back.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the closed set of auditable state changes.
type AuditAction string

const (
	AuditUserRoleChanged           AuditAction = "USER_ROLE_CHANGED"
	AuditUserTierChanged           AuditAction = "USER_TIER_CHANGED"
	AuditUserDeleted               AuditAction = "USER_DELETED"
	AuditProtocolEdited            AuditAction = "PROTOCOL_EDITED"
	AuditDepartmentTierChanged     AuditAction = "DEPARTMENT_TIER_CHANGED"
	AuditSubscriptionStatusChanged AuditAction = "SUBSCRIPTION_STATUS_CHANGED"
	AuditMemberJoined              AuditAction = "MEMBER_JOINED"
	AuditMemberRemoved             AuditAction = "MEMBER_REMOVED"
)

// Audit target types.
const (
	AuditTargetUser       = "user"
	AuditTargetDepartment = "department"
	AuditTargetProtocol   = "protocol"
)

// AuditEntry is a request to record a privileged state change.
// Details carries an old/new snapshot of the fields that changed.
type AuditEntry struct {
	ActorID    uuid.UUID
	Action     AuditAction
	TargetType string
	TargetID   string
	Details    map[string]any
}

// ChangeDetails builds the conventional old/new snapshot for a single field.
func ChangeDetails(old, new any) map[string]any {
	return map[string]any{"old": old, "new": new}
}

// AuditLogEntry is a persisted audit row. It is never updated or deleted.
type AuditLogEntry struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	Action     AuditAction
	TargetType string
	TargetID   string
	Details    json.RawMessage
	CreatedAt  time.Time
}
