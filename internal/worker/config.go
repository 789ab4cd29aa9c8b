package worker

import (
	"fmt"
	"time"
)

// Config tunes the background job worker pool.
type Config struct {
	// Concurrency is how many goroutines poll and run jobs in parallel.
	Concurrency int

	// PollInterval is the sleep between polls when the queue is empty.
	PollInterval time.Duration

	// JobTimeout caps how long a single job may run before its context
	// is canceled and the attempt counts as a failure.
	JobTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration

	// StaleJobThreshold is the age at which a 'running' job is presumed
	// orphaned by a crashed worker and recovered on startup.
	StaleJobThreshold time.Duration
}

// DefaultConfig returns the settings used in production unless
// overridden by environment configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      5 * time.Second,
		JobTimeout:        5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
	}
}

// Validate rejects configurations that would stall or thrash the pool.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	case c.Concurrency > 100:
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	case c.PollInterval < time.Second:
		return fmt.Errorf("poll interval must be at least 1 second, got %v", c.PollInterval)
	case c.JobTimeout < time.Second:
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	case c.ShutdownTimeout < time.Second:
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	case c.StaleJobThreshold < time.Minute:
		return fmt.Errorf("stale job threshold must be at least 1 minute, got %v", c.StaleJobThreshold)
	}
	return nil
}
