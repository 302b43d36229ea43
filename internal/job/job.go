// Package job defines the background job model carried by the Redis queue:
// repair sweeps, emission reports and emission alerts.
// It contains job metadata, status and priority definitions, and serialization helpers.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	JobStatus   string
	JobPriority int
	Job         struct {
		ID          string         `json:"id"`
		Type        string         `json:"type"`
		Payload     map[string]any `json:"payload"`
		Priority    JobPriority    `json:"priority"`
		Status      JobStatus      `json:"status"`
		RetryCount  int            `json:"retry_count"`
		MaxRetries  int            `json:"max_retries"`
		CreatedAt   time.Time      `json:"created_at"`
		ScheduledAt time.Time      `json:"scheduled_at"`
		StartedAt   *time.Time     `json:"started_at,omitempty"`
		CompletedAt *time.Time     `json:"completed_at,omitempty"`
		Error       string         `json:"error,omitempty"`
		MovedToDLQ  *time.Time     `json:"moved_to_dlq_at,omitempty"`
	}
)

const (
	PendingStatus    JobStatus = "pending"
	RunningStatus    JobStatus = "running"
	CompletedStatus  JobStatus = "completed"
	FailedStatus     JobStatus = "failed"
	DeadLetterStatus JobStatus = "dead_letter"
)

const (
	LowPriority JobPriority = iota
	MediumPriority
	HighPriority
)

// Job types understood by the worker.
const (
	TypeRecalculate   = "recalculate_projects"
	TypeReport        = "generate_report"
	TypeEmissionAlert = "emission_alert"
)

const defaultMaxRetries = 3

func (p JobPriority) String() string {
	switch p {
	case LowPriority:
		return "low"
	case MediumPriority:
		return "medium"
	case HighPriority:
		return "high"
	default:
		return "unknown"
	}
}

func NewJob(jobType string, payload map[string]any, priority JobPriority) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		Status:      PendingStatus,
		MaxRetries:  defaultMaxRetries,
		RetryCount:  0,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (j *Job) ShouldMoveToDeadLetter() bool {
	return j.RetryCount >= j.MaxRetries && j.Status == FailedStatus
}

func JobFromJSON(data string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, err
	}

	return &j, nil
}
