package worker

import (
	"context"
	"errors"
)

// JobHandler runs one kind of background job. Type must return the
// job_type value stored in the jobs table; Handle receives the raw
// JSON payload for a single job.
type JobHandler interface {
	Type() string
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a failure that retrying cannot fix, such as a
// payload that no longer references an existing row. The worker moves
// the job straight to 'failed' instead of rescheduling it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err so the worker will not retry the job.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, anywhere in its chain, is a
// PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
