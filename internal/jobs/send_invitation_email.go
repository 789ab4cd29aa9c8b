// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/titlescout/titlescout/internal/email"
	"github.com/titlescout/titlescout/internal/repository"
	"github.com/titlescout/titlescout/internal/worker"
)

// SendInvitationEmailHandler delivers department invitation emails.
type SendInvitationEmailHandler struct {
	queries *repository.Queries
	email   email.EmailService
	logger  *slog.Logger
}

// NewSendInvitationEmailHandler creates a new handler for invitation emails.
func NewSendInvitationEmailHandler(queries *repository.Queries, emailService email.EmailService, logger *slog.Logger) *SendInvitationEmailHandler {
	return &SendInvitationEmailHandler{
		queries: queries,
		email:   emailService,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *SendInvitationEmailHandler) Type() string {
	return worker.JobTypeSendInvitationEmail
}

// Handle delivers one invitation email. An invitation that no longer exists,
// has been rotated, accepted, or expired by the time the job runs is dropped
// permanently; sending a dead link helps nobody.
func (h *SendInvitationEmailHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.SendInvitationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	inv, err := h.queries.GetInvitationByID(ctx, p.InvitationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return worker.NewPermanentError(fmt.Errorf("invitation not found: %s", p.InvitationID))
		}
		return fmt.Errorf("fetch invitation: %w", err)
	}

	if inv.AcceptedAt.Valid {
		h.logger.Info("invitation already accepted, skipping email", "invitation_id", inv.ID)
		return nil
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		return worker.NewPermanentError(fmt.Errorf("invitation expired: %s", inv.ID))
	}

	dept, err := h.queries.GetDepartmentByID(ctx, inv.DepartmentID)
	if err != nil {
		return fmt.Errorf("fetch department: %w", err)
	}

	inviterName := "A colleague"
	if inviter, err := h.queries.GetUserByID(ctx, inv.InvitedBy); err == nil {
		inviterName = inviter.Name
	}

	if err := h.email.SendInvitationEmail(ctx, p.Email, dept.Name, inviterName, p.Token); err != nil {
		return fmt.Errorf("send invitation email: %w", err)
	}

	h.logger.Info("invitation email sent", "invitation_id", inv.ID, "department_id", dept.ID)
	return nil
}
