package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/titlescout/titlescout/internal/email"
	"github.com/titlescout/titlescout/internal/repository"
	"github.com/titlescout/titlescout/internal/worker"
)

// SendWelcomeEmailHandler delivers the welcome email after checkout.
type SendWelcomeEmailHandler struct {
	queries *repository.Queries
	email   email.EmailService
	logger  *slog.Logger
}

// NewSendWelcomeEmailHandler creates a new handler for welcome emails.
func NewSendWelcomeEmailHandler(queries *repository.Queries, emailService email.EmailService, logger *slog.Logger) *SendWelcomeEmailHandler {
	return &SendWelcomeEmailHandler{
		queries: queries,
		email:   emailService,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *SendWelcomeEmailHandler) Type() string {
	return worker.JobTypeSendWelcomeEmail
}

// Handle delivers one welcome email.
func (h *SendWelcomeEmailHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.SendWelcomePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	user, err := h.queries.GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return worker.NewPermanentError(fmt.Errorf("user not found: %s", p.UserID))
		}
		return fmt.Errorf("fetch user: %w", err)
	}

	if err := h.email.SendWelcomeEmail(ctx, user.Email, user.Name, p.Tier); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}

	h.logger.Info("welcome email sent", "user_id", user.ID, "tier", p.Tier)
	return nil
}
