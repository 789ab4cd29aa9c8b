package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is the jobs table row for the background worker queue.
type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      json.RawMessage
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
	scheduled_at, started_at, completed_at, error_message, created_at, updated_at`

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.JobType, &j.Payload, &j.Status, &j.Priority, &j.Attempts,
		&j.MaxAttempts, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

const enqueueJob = `INSERT INTO jobs (id, job_type, payload, priority, max_attempts, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + jobColumns

// EnqueueJobParams are the parameters for EnqueueJob.
type EnqueueJobParams struct {
	JobType     string
	Payload     json.RawMessage
	Priority    int32
	MaxAttempts int32
	ScheduledAt time.Time
}

func (q *Queries) EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, enqueueJob,
		uuid.New(), arg.JobType, arg.Payload, arg.Priority, arg.MaxAttempts, arg.ScheduledAt))
}

// dequeueJob claims the next runnable job. FOR UPDATE SKIP LOCKED lets
// concurrent workers dequeue without blocking each other.
const dequeueJob = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'pending' AND scheduled_at <= now()
ORDER BY priority DESC, scheduled_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

func (q *Queries) DequeueJob(ctx context.Context) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, dequeueJob))
}

const updateJobStarted = `UPDATE jobs SET status = 'running', started_at = now(),
	attempts = attempts + 1, updated_at = now()
WHERE id = $1`

func (q *Queries) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, updateJobStarted, id)
	return err
}

const updateJobCompleted = `UPDATE jobs SET status = 'completed', completed_at = now(), updated_at = now()
WHERE id = $1`

func (q *Queries) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, updateJobCompleted, id)
	return err
}

// updateJobFailed reschedules with exponential backoff until max_attempts,
// then parks the job as failed. Permanent failures park immediately.
const updateJobFailed = `UPDATE jobs SET
	status = CASE WHEN $3 OR attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	scheduled_at = now() + (interval '30 seconds' * power(2, attempts)),
	error_message = $2,
	updated_at = now()
WHERE id = $1`

// UpdateJobFailedParams are the parameters for UpdateJobFailed.
type UpdateJobFailedParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
	Permanent    bool
}

func (q *Queries) UpdateJobFailed(ctx context.Context, arg UpdateJobFailedParams) error {
	_, err := q.db.ExecContext(ctx, updateJobFailed, arg.ID, arg.ErrorMessage, arg.Permanent)
	return err
}

const recoverStaleJobs = `UPDATE jobs SET status = 'pending', updated_at = now()
WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)`

// RecoverStaleJobs resets jobs stuck in 'running' from crashed workers.
func (q *Queries) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	result, err := q.db.ExecContext(ctx, recoverStaleJobs, thresholdSeconds)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
