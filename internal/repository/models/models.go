// Package models contains filters, pagination and aggregate rows shared by the repository layer and its callers.
package models

import (
	"math"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/task"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type Page struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip, normalising out-of-range values.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	return p
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func NewPagination(p Page, total int) Pagination {
	n := p.Normalize()
	return Pagination{
		Page:  n.Page,
		Limit: n.Limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(n.Limit))),
	}
}

type TaskFilter struct {
	Status     task.Status
	Priority   task.Priority
	Category   co2.Category
	ProjectID  string
	AssigneeID string
	Search     string
	Page
}

type ProjectFilter struct {
	OwnerID string
	Search  string
	Page
}

// Scope narrows aggregate queries to a project or an assignee. The zero value covers everything.
type Scope struct {
	ProjectID  string
	AssigneeID string
}

type Totals struct {
	Users          int `json:"totalUsers"`
	Projects       int `json:"totalProjects"`
	Tasks          int `json:"totalTasks"`
	CompletedTasks int `json:"completedTasks"`
}

type ProjectCO2 struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	CO2Amount   float64 `json:"co2Amount"`
	TaskCount   int     `json:"taskCount"`
}

type CategoryCO2 struct {
	Category  co2.Category `json:"taskType"`
	CO2Amount float64      `json:"co2Amount"`
}

type PeriodCO2 struct {
	Period    string  `json:"period"`
	CO2Amount float64 `json:"co2Amount"`
	TaskCount int     `json:"taskCount"`
}

type TaskGroupStats struct {
	Status         task.Status   `json:"status"`
	Category       co2.Category  `json:"type"`
	Priority       task.Priority `json:"priority"`
	Count          int           `json:"count"`
	CO2Amount      float64       `json:"co2Amount"`
	EstimatedHours float64       `json:"estimatedHours"`
	ActualHours    float64       `json:"actualHours"`
}

type MemberCO2 struct {
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	TaskCount int     `json:"taskCount"`
	CO2Amount float64 `json:"co2Amount"`
}

// ReportRow is one line of a CSV emission report.
type ReportRow struct {
	Key       string
	Label     string
	TaskCount int
	Hours     float64
	CO2Amount float64
}

// Report groupings accepted by StatsRepository.ReportRows.
const (
	GroupByProject  = "project"
	GroupByCategory = "category"
	GroupByAssignee = "assignee"
	GroupByMonth    = "month"
)

// Period buckets accepted by StatsRepository.CO2ByPeriod.
const (
	BucketWeek  = "week"
	BucketMonth = "month"
)

func ValidGrouping(groupBy string) bool {
	switch groupBy {
	case GroupByProject, GroupByCategory, GroupByAssignee, GroupByMonth:
		return true
	default:
		return false
	}
}
