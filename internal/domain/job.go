// Package domain provides the job record and the ranking entities the job engine reads and writes.
package domain

import (
	"time"
)

// JobType discriminates the payload and the handler a job is routed to.
type JobType string

const (
	JobTypeSerpAnalysis    JobType = "serp_analysis"
	JobTypeSitemapFetch    JobType = "sitemap_fetch"
	JobTypePageExtraction  JobType = "page_extraction"
	JobTypeAIReport        JobType = "ai_report"
	JobTypeInitialAnalysis JobType = "initial_analysis"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{
	JobTypeSerpAnalysis,
	JobTypeSitemapFetch,
	JobTypePageExtraction,
	JobTypeAIReport,
	JobTypeInitialAnalysis,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the status blocks a duplicate enqueue.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job priorities. Higher runs sooner.
const (
	PriorityManual       = 8
	PrioritySerpPeriodic = 3
	PriorityReport       = 2
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// Job is a persisted unit of work.
type Job struct {
	ID          string     `db:"id"           json:"id"`
	WebsiteID   string     `db:"website_id"   json:"website_id"`
	Type        JobType    `db:"type"         json:"type"`
	Payload     JSONB      `db:"payload"      json:"payload"`
	Status      JobStatus  `db:"status"       json:"status"`
	Priority    int        `db:"priority"     json:"priority"`
	Attempts    int        `db:"attempts"     json:"attempts"`
	MaxAttempts int        `db:"max_attempts" json:"max_attempts"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Result      JSONB      `db:"result"       json:"result,omitempty"`
	Error       *string    `db:"error"        json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// Due reports whether a pending job is eligible to run at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledAt.After(now) && j.Attempts < j.MaxAttempts
}

// JobFilter narrows job listings.
type JobFilter struct {
	WebsiteID string
	Type      JobType
	Status    JobStatus
	Limit     int
	Offset    int
}
