// Package project defines projects and their cached emission total.
package project

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
)

const DefaultColor = "#3B82F6"

type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Color       string         `json:"color"`
	OwnerID     string         `json:"ownerId"`
	MemberIDs   []string       `json:"memberIds"`
	TaskCount   int            `json:"taskCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Owner       *user.Summary  `json:"owner,omitempty"`
	Members     []user.Summary `json:"members,omitempty"`
	Tasks       []*task.Task   `json:"tasks,omitempty"`

	totalEmissions float64
}

type NewParams struct {
	Name        string
	Description string
	Color       string
	OwnerID     string
	MemberIDs   []string
}

type Patch struct {
	Name        *string
	Description *string
	Color       *string
	OwnerID     *string
	MemberIDs   *[]string
}

// New creates a project with no tasks and a zero total.
func New(p NewParams, now time.Time) *Project {
	color := p.Color
	if color == "" {
		color = DefaultColor
	}

	members := p.MemberIDs
	if members == nil {
		members = []string{}
	}

	return &Project{
		ID:          uuid.New().String(),
		Name:        p.Name,
		Description: p.Description,
		Color:       color,
		OwnerID:     p.OwnerID,
		MemberIDs:   members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Rehydrate restores the stored total of a project loaded by a storage adapter.
func Rehydrate(p *Project, totalEmissions float64) *Project {
	p.totalEmissions = totalEmissions
	return p
}

func (p *Project) TotalEmissions() float64 {
	return p.totalEmissions
}

func (p *Project) Tier() co2.Tier {
	return co2.Classify(p.totalEmissions)
}

// Apply merges descriptive fields. The emission total is not part of a patch.
func (p *Project) Apply(patch Patch, now time.Time) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Color != nil {
		p.Color = *patch.Color
	}
	if patch.OwnerID != nil {
		p.OwnerID = *patch.OwnerID
	}
	if patch.MemberIDs != nil {
		p.MemberIDs = append([]string{}, (*patch.MemberIDs)...)
	}
	p.UpdatedAt = now
}

type projectJSON struct {
	TotalEmissions float64  `json:"totalCO2"`
	Tier           co2.Tier `json:"co2Level"`
}

func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return json.Marshal(struct {
		plain
		projectJSON
	}{plain(p), projectJSON{TotalEmissions: co2.Round2(p.totalEmissions), Tier: p.Tier()}})
}

func (p *Project) UnmarshalJSON(data []byte) error {
	type plain Project
	var aux struct {
		plain
		projectJSON
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*p = Project(aux.plain)
	p.totalEmissions = aux.TotalEmissions
	return nil
}
