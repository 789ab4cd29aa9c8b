// Package worker runs queued background jobs out of the jobs table.
// Jobs are claimed with SELECT ... FOR UPDATE SKIP LOCKED so several
// worker processes can share one queue.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/repository"
)

// Worker polls the jobs table and dispatches each job to its
// registered handler.
type Worker struct {
	db       *sql.DB
	queries  *repository.Queries
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Worker{
		db:       db,
		queries:  queries,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Register installs a handler for its job type. Must be called before
// Start; a second handler for the same type replaces the first.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, dup := w.handlers[jobType]; dup {
		w.logger.Warn("Replacing job handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
}

// Start recovers jobs orphaned by a previous crash, then launches the
// polling goroutines.
func (w *Worker) Start(ctx context.Context) {
	recovered, err := w.queries.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		w.logger.Error("Failed to recover stale jobs", "error", err)
	} else if recovered > 0 {
		w.logger.Warn("Recovered stale jobs", "count", recovered, "threshold", w.config.StaleJobThreshold)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, i+1)
	}
	w.logger.Info("Worker started", "concurrency", w.config.Concurrency)
}

// Stop closes the stop channel and waits up to ShutdownTimeout for
// in-flight jobs. Jobs still running after that are abandoned; the
// stale-job recovery on the next Start picks them up.
func (w *Worker) Stop() {
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timed out with jobs still running")
	}
}

func (w *Worker) pollLoop(ctx context.Context, id int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", id)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			job, err := w.claimJob(ctx)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					logger.Error("Failed to claim job", "error", err)
				}
				continue
			}
			w.runJob(ctx, job, logger)
		}
	}
}

// claimJob dequeues one pending job and flips it to 'running' in a
// single transaction, so no other worker can pick it up.
func (w *Worker) claimJob(ctx context.Context) (repository.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := w.queries.WithTx(tx)
	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		return repository.Job{}, err
	}
	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return repository.Job{}, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// runJob executes the handler under JobTimeout and records the
// terminal state.
func (w *Worker) runJob(ctx context.Context, job repository.Job, logger *slog.Logger) {
	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts+1)
	logger.Info("Processing job")

	metrics.JobStarted(job.JobType)
	started := time.Now()

	if err := w.dispatch(ctx, job); err != nil {
		logger.Error("Job failed", "error", err)
		w.settleFailure(ctx, job, err)
		return
	}

	metrics.JobCompleted(job.JobType, time.Since(started))
	logger.Info("Job completed")
	if err := w.markCompleted(ctx, job.ID); err != nil {
		logger.Error("Failed to mark job completed", "error", err)
	}
}

func (w *Worker) dispatch(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler registered for job type: %s", job.JobType))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()
	return handler.Handle(jobCtx, job.Payload)
}

func (w *Worker) markCompleted(ctx context.Context, jobID uuid.UUID) error {
	if err := w.queries.UpdateJobCompleted(ctx, jobID); err != nil {
		return fmt.Errorf("update job completed: %w", err)
	}
	return nil
}

// settleFailure records the outcome of a failed attempt. Permanent
// errors and exhausted attempts land in 'failed'; everything else is
// rescheduled with backoff by the UpdateJobFailed query.
func (w *Worker) settleFailure(ctx context.Context, job repository.Job, jobErr error) {
	permanent := IsPermanent(jobErr)
	switch {
	case permanent:
		w.logger.Warn("Job failed permanently", "job_id", job.ID, "error", jobErr)
		metrics.JobFailed(job.JobType)
	case job.Attempts+1 >= job.MaxAttempts:
		metrics.JobFailed(job.JobType)
	default:
		metrics.JobRetried(job.JobType)
	}

	err := w.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{
		ID:           job.ID,
		ErrorMessage: sql.NullString{String: jobErr.Error(), Valid: true},
		Permanent:    permanent,
	})
	if err != nil {
		w.logger.Error("Failed to record job failure", "job_id", job.ID, "error", err)
	}
}
