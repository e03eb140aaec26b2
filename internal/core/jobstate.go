package core

// jobstate.go holds the job state machine. Transitions are monotonic and
// terminal states are immutable; anything else is an ErrJobState.

import (
	"fmt"
	"time"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobValidating, JobProcessing, JobFailed, JobCancelled},
	JobValidating: {JobProcessing, JobCompleted, JobFailed, JobCancelled},
	JobProcessing: {JobCompleted, JobFailed, JobCancelled},
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition wraps CanTransition with the standard error.
func checkTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrJobState, from, to)
	}
	return nil
}

// Cancellable reports whether a job in the given state accepts a cancel
// command.
func Cancellable(s JobStatus) bool {
	switch s {
	case JobPending, JobValidating, JobProcessing:
		return true
	}
	return false
}

// ProgressPercent computes processed/total as a whole percentage, 0 when
// total is zero.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

// EstimateRemaining extrapolates the time left from the elapsed duration
// and the counters. Undefined (nil) until at least one record has been
// processed or once the job is done.
func EstimateRemaining(startedAt *time.Time, processed, total int, now time.Time) *float64 {
	if startedAt == nil || processed <= 0 || processed >= total {
		return nil
	}
	elapsed := now.Sub(*startedAt).Seconds()
	remaining := elapsed / float64(processed) * float64(total-processed)
	return &remaining
}
