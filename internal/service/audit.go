// Package service contains the business logic layer.
//
// This file implements the audit log recorder. Audit entries are written
// through the transaction-scoped Queries of the state change they describe:
// if the audit insert fails, the caller's transaction rolls back, so no
// privileged mutation can commit unaudited.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/repository"
)

// AuditService records and reads audit log entries.
// The underlying store is append-only; there is no update or delete.
type AuditService interface {
	// Record appends an audit entry using the provided Queries, which the
	// caller binds to its open transaction via WithTx.
	Record(ctx context.Context, q *repository.Queries, entry domain.AuditEntry) error

	// RecordProtocolEdit appends a protocol-edit entry. Protocol content
	// lives in the recording pipeline; only its audit trail is kept here,
	// so this write needs no surrounding transaction.
	RecordProtocolEdit(ctx context.Context, actorID uuid.UUID, protocolID string, details map[string]any) error

	// ListByTarget returns the most recent entries for a target, newest first.
	ListByTarget(ctx context.Context, targetType, targetID string, limit int32) ([]domain.AuditLogEntry, error)
}

type auditService struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(queries *repository.Queries, logger *slog.Logger) AuditService {
	return &auditService{
		queries: queries,
		logger:  logger,
	}
}

func (s *auditService) Record(ctx context.Context, q *repository.Queries, entry domain.AuditEntry) error {
	const op = "audit.record"

	details := pqtype.NullRawMessage{}
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return domain.Internal(err, op, "Failed to encode audit details")
		}
		details = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		ID:         uuid.New(),
		ActorID:    entry.ActorID,
		Action:     string(entry.Action),
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    details,
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to write audit entry")
	}

	s.logger.Info("audit entry recorded",
		"action", entry.Action,
		"actor_id", entry.ActorID,
		"target_type", entry.TargetType,
		"target_id", entry.TargetID,
	)
	return nil
}

func (s *auditService) RecordProtocolEdit(ctx context.Context, actorID uuid.UUID, protocolID string, details map[string]any) error {
	const op = "audit.record_protocol_edit"

	if protocolID == "" {
		return domain.Invalid(op, "A protocol ID is required")
	}
	return s.Record(ctx, s.queries, domain.AuditEntry{
		ActorID:    actorID,
		Action:     domain.AuditProtocolEdited,
		TargetType: domain.AuditTargetProtocol,
		TargetID:   protocolID,
		Details:    details,
	})
}

func (s *auditService) ListByTarget(ctx context.Context, targetType, targetID string, limit int32) ([]domain.AuditLogEntry, error) {
	const op = "audit.list_by_target"

	rows, err := s.queries.ListAuditLogsByTarget(ctx, targetType, targetID, limit)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list audit entries")
	}

	entries := make([]domain.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		entry := domain.AuditLogEntry{
			ID:         row.ID,
			ActorID:    row.ActorID,
			Action:     domain.AuditAction(row.Action),
			TargetType: row.TargetType,
			TargetID:   row.TargetID,
			CreatedAt:  row.CreatedAt,
		}
		if row.Details.Valid {
			entry.Details = row.Details.RawMessage
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SystemActorID is the actor recorded for mutations driven by provider
// events rather than a signed-in user.
var SystemActorID = uuid.Nil
