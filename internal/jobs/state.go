package jobs

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending: {
		domain.JobStatusRunning,   // claimed by the dispatcher
		domain.JobStatusCancelled, // forced enqueue or manual cancel
	},
	domain.JobStatusRunning: {
		domain.JobStatusCompleted, // handler succeeded
		domain.JobStatusFailed,    // attempts exhausted
		domain.JobStatusPending,   // retry scheduled with backoff
		domain.JobStatusCancelled, // forced enqueue or manual cancel
	},
	domain.JobStatusCompleted: {},
	domain.JobStatusFailed:    {},
	domain.JobStatusCancelled: {},
}

// ValidateTransition checks that a job may move from one status to another.
func ValidateTransition(from, to domain.JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source status: %s", from)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("invalid status transition from %s to %s", from, to)
}

// CanCancel reports whether a job in status s may be cancelled.
func CanCancel(s domain.JobStatus) bool {
	return ValidateTransition(s, domain.JobStatusCancelled) == nil
}
