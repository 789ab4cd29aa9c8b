package metrics

import "time"

// JobStarted marks a job as in flight. Pair with JobCompleted or JobFailed.
func JobStarted(jobType string) {
	JobsInFlight.Inc()
}

// JobCompleted records a successful run and its duration.
func JobCompleted(jobType string, duration time.Duration) {
	JobsInFlight.Dec()
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a terminal failure (retries exhausted or permanent error).
func JobFailed(jobType string) {
	JobsInFlight.Dec()
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
}

// JobRetried records an attempt that failed and was rescheduled.
func JobRetried(jobType string) {
	JobsInFlight.Dec()
	JobRetriesTotal.WithLabelValues(jobType).Inc()
}
