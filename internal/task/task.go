// Package task defines the task domain model. A task's emissions are derived
// from its category and estimated hours and can only change through New and Apply.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/user"
)

type (
	Status   string
	Priority string
)

const (
	TodoStatus       Status = "TODO"
	InProgressStatus Status = "IN_PROGRESS"
	ReviewStatus     Status = "REVIEW"
	DoneStatus       Status = "DONE"
)

const (
	LowPriority    Priority = "LOW"
	MediumPriority Priority = "MEDIUM"
	HighPriority   Priority = "HIGH"
	UrgentPriority Priority = "URGENT"
)

func (s Status) Valid() bool {
	switch s {
	case TodoStatus, InProgressStatus, ReviewStatus, DoneStatus:
		return true
	default:
		return false
	}
}

func (p Priority) Valid() bool {
	switch p {
	case LowPriority, MediumPriority, HighPriority, UrgentPriority:
		return true
	default:
		return false
	}
}

// Calculator is satisfied by *co2.Calculator.
type Calculator interface {
	Compute(category co2.Category, hours float64) (float64, error)
}

// ProjectSummary is the short project form embedded in task responses.
type ProjectSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Task struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Category       co2.Category    `json:"type"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	AssigneeID     string          `json:"assigneeId"`
	ProjectID      string          `json:"projectId"`
	EstimatedHours float64         `json:"estimatedHours"`
	ActualHours    *float64        `json:"actualHours,omitempty"`
	DueDate        time.Time       `json:"dueDate"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Assignee       *user.Summary   `json:"assignee,omitempty"`
	Project        *ProjectSummary `json:"project,omitempty"`

	emissions float64
}

type NewParams struct {
	Title          string
	Description    string
	Category       co2.Category
	Priority       Priority
	Status         Status
	AssigneeID     string
	ProjectID      string
	EstimatedHours float64
	DueDate        time.Time
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title          *string
	Description    *string
	Category       *co2.Category
	Priority       *Priority
	Status         *Status
	AssigneeID     *string
	ProjectID      *string
	EstimatedHours *float64
	ActualHours    *float64
	DueDate        *time.Time
	CompletedAt    *time.Time
}

// Change describes what an Apply call did to the accounting-relevant fields.
type Change struct {
	EmissionsChanged  bool
	PreviousEmissions float64
	ProjectChanged    bool
	PreviousProjectID string
}

// Affects reports whether the owning project's total may need recalculation.
func (c Change) Affects() bool {
	return c.EmissionsChanged || c.ProjectChanged
}

func New(p NewParams, calc Calculator, now time.Time) (*Task, error) {
	emissions, err := calc.Compute(p.Category, p.EstimatedHours)
	if err != nil {
		return nil, err
	}

	status := p.Status
	if status == "" {
		status = TodoStatus
	}

	t := &Task{
		ID:             uuid.New().String(),
		Title:          p.Title,
		Description:    p.Description,
		Category:       p.Category,
		Priority:       p.Priority,
		AssigneeID:     p.AssigneeID,
		ProjectID:      p.ProjectID,
		EstimatedHours: p.EstimatedHours,
		DueDate:        p.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
		emissions:      emissions,
	}
	t.SetStatus(status, now)

	return t, nil
}

// Rehydrate restores the stored emissions of a task loaded by a storage adapter.
func Rehydrate(t *Task, emissions float64) *Task {
	t.emissions = emissions
	return t
}

func (t *Task) Emissions() float64 {
	return t.emissions
}

func (t *Task) Tier() co2.Tier {
	return co2.Classify(t.emissions)
}

// SetStatus moves the task to s. DONE stamps the completion time, any other
// status clears it.
func (t *Task) SetStatus(s Status, now time.Time) {
	t.Status = s
	if s == DoneStatus {
		if t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
}

// Apply merges p into the task. Emissions are recomputed only when the category
// or the estimated hours actually change. On error the task is left unchanged.
func (t *Task) Apply(p Patch, calc Calculator, now time.Time) (Change, error) {
	change := Change{
		PreviousEmissions: t.emissions,
		PreviousProjectID: t.ProjectID,
	}

	category, hours := t.Category, t.EstimatedHours
	if p.Category != nil {
		category = *p.Category
	}
	if p.EstimatedHours != nil {
		hours = *p.EstimatedHours
	}

	emissions := t.emissions
	if category != t.Category || hours != t.EstimatedHours {
		var err error
		emissions, err = calc.Compute(category, hours)
		if err != nil {
			return Change{}, fmt.Errorf("failed to compute emissions: %w", err)
		}
		change.EmissionsChanged = true
	}

	if p.ProjectID != nil && *p.ProjectID != t.ProjectID {
		t.ProjectID = *p.ProjectID
		change.ProjectChanged = true
	}

	t.Category = category
	t.EstimatedHours = hours
	t.emissions = emissions

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ActualHours != nil {
		actual := *p.ActualHours
		t.ActualHours = &actual
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Status != nil {
		t.SetStatus(*p.Status, now)
	}
	if p.CompletedAt != nil {
		completed := *p.CompletedAt
		t.CompletedAt = &completed
	}
	t.UpdatedAt = now

	return change, nil
}

type taskJSON struct {
	Emissions float64  `json:"co2Emissions"`
	Tier      co2.Tier `json:"co2Level"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	return json.Marshal(struct {
		plain
		taskJSON
	}{plain(t), taskJSON{Emissions: co2.Round2(t.emissions), Tier: t.Tier()}})
}

func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var aux struct {
		plain
		taskJSON
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*t = Task(aux.plain)
	t.emissions = aux.Emissions
	return nil
}
