// Package events publishes job lifecycle events to a Redis stream.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

// DefaultStreamName is the Redis stream job events are appended to.
const DefaultStreamName = "rank-tracker:job-events"

// EventType identifies a job lifecycle transition.
type EventType string

const (
	JobEnqueued  EventType = "job.enqueued"
	JobStarted   EventType = "job.started"
	JobCompleted EventType = "job.completed"
	JobRetrying  EventType = "job.retrying"
	JobFailed    EventType = "job.failed"
	JobCancelled EventType = "job.cancelled"
)

// JobEvent is the envelope written to the stream.
type JobEvent struct {
	EventID   uuid.UUID        `json:"event_id"`
	EventType EventType        `json:"event_type"`
	JobID     string           `json:"job_id"`
	WebsiteID string           `json:"website_id"`
	JobType   domain.JobType   `json:"job_type"`
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewJobEvent builds an event describing job after a transition.
func NewJobEvent(eventType EventType, job *domain.Job) JobEvent {
	evt := JobEvent{
		EventType: eventType,
		JobID:     job.ID,
		WebsiteID: job.WebsiteID,
		JobType:   job.Type,
		Status:    job.Status,
		Attempts:  job.Attempts,
	}
	if job.Error != nil {
		evt.Error = *job.Error
	}
	return evt
}
