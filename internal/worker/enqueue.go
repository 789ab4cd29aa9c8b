package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/repository"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeSendInvitationEmail  = "send_invitation_email"
	JobTypeSendWelcomeEmail     = "send_welcome_email"
	JobTypeCleanupSearchHistory = "cleanup_search_history"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// SendInvitationPayload is the payload for invitation email jobs. The raw
// token rides in the job payload only until delivery; the database stores
// the hash.
type SendInvitationPayload struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	Email        string    `json:"email"`
	Token        string    `json:"token"`
}

// SendWelcomePayload is the payload for welcome email jobs, enqueued after
// a checkout completes.
type SendWelcomePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Tier   string    `json:"tier"`
}

// CleanupSearchHistoryPayload is the payload for history retention jobs.
type CleanupSearchHistoryPayload struct {
	BatchSize int32 `json:"batch_size"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// EnqueueSendInvitation enqueues an invitation email. Delivery failures are
// retried; the invitation itself is already persisted and valid.
func EnqueueSendInvitation(
	ctx context.Context,
	queries *repository.Queries,
	invitationID uuid.UUID,
	email string,
	token string,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payload := SendInvitationPayload{
		InvitationID: invitationID,
		Email:        email,
		Token:        token,
	}

	return EnqueueJob(ctx, queries, JobTypeSendInvitationEmail, payload, opts...)
}

// EnqueueSendWelcome enqueues a welcome email after a successful checkout.
func EnqueueSendWelcome(
	ctx context.Context,
	queries *repository.Queries,
	userID uuid.UUID,
	tier string,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payload := SendWelcomePayload{
		UserID: userID,
		Tier:   tier,
	}

	return EnqueueJob(ctx, queries, JobTypeSendWelcomeEmail, payload, opts...)
}

// EnqueueCleanupSearchHistory enqueues one retention sweep over search
// history. The scheduler enqueues these on an interval; each run deletes
// rows past their owner's retention window in bounded batches.
func EnqueueCleanupSearchHistory(
	ctx context.Context,
	queries *repository.Queries,
	batchSize int32,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payload := CleanupSearchHistoryPayload{BatchSize: batchSize}

	return EnqueueJob(ctx, queries, JobTypeCleanupSearchHistory, payload, opts...)
}
