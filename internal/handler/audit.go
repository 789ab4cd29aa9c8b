// This file implements the audit log endpoints.
//
// Routes:
//   - GET  /internal/audit/{targetType}/{targetID}     (admin only)
//   - POST /internal/protocols/{protocolID}/edits      (admin only)
//
// The audit store is append-only; reads go through ListByTarget, and the
// only direct write is the protocol-edit report, since protocol content is
// managed outside this service.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// AuditHandler serves audit log reads.
type AuditHandler struct {
	audit  service.AuditService
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit service.AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// RegisterRoutes registers audit routes on the provided mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /internal/audit/{targetType}/{targetID}", requireAdmin(http.HandlerFunc(h.ListByTarget)))
	mux.Handle("POST /internal/protocols/{protocolID}/edits", requireAdmin(http.HandlerFunc(h.RecordProtocolEdit)))
}

type protocolEditRequest struct {
	Details map[string]interface{} `json:"details"`
}

// RecordProtocolEdit appends a protocol-edit entry to the audit trail. The
// recording pipeline calls this after changing a protocol so the trail for
// a document stays queryable in one place.
func (h *AuditHandler) RecordProtocolEdit(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromRequest(r)
	protocolID := r.PathValue("protocolID")

	var req protocolEditRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.audit.RecordProtocolEdit(r.Context(), actor.ID, protocolID, req.Details); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type auditEntryResponse struct {
	ActorID    string                 `json:"actor_id"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Details    json.RawMessage        `json:"details,omitempty"`
	CreatedAt  string                 `json:"created_at"`
}

// ListByTarget returns audit entries for one target, newest first.
func (h *AuditHandler) ListByTarget(w http.ResponseWriter, r *http.Request) {
	targetType := r.PathValue("targetType")
	targetID := r.PathValue("targetID")

	switch targetType {
	case domain.AuditTargetUser, domain.AuditTargetDepartment, domain.AuditTargetProtocol:
	default:
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Unknown audit target type"))
		return
	}

	limit := int32(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = int32(n)
		}
	}

	entries, err := h.audit.ListByTarget(r.Context(), targetType, targetID, limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ActorID:    e.ActorID.String(),
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
