package api

import (
	"net/url"
	"strconv"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
)

// parseTime reads a value already accepted by the datetime rule.
func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339, value)
	return t
}

type createUserRequest struct {
	Name  string    `json:"name" validate:"required,min=2,max=100"`
	Email string    `json:"email" validate:"required,email"`
	Role  user.Role `json:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
}

func (req createUserRequest) validate() error {
	return httputil.Validate(req)
}

type updateUserRequest struct {
	Name  *string    `json:"name" validate:"omitnil,min=2,max=100"`
	Email *string    `json:"email" validate:"omitnil,email"`
	Role  *user.Role `json:"role" validate:"omitnil,oneof=ADMIN MEMBER"`
}

func (req updateUserRequest) patch() (user.Patch, error) {
	return user.Patch{Name: req.Name, Email: req.Email, Role: req.Role}, httputil.Validate(req)
}

type createProjectRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=200"`
	Description string   `json:"description" validate:"max=1000"`
	Color       string   `json:"color" validate:"omitempty,hexcolor,len=7"`
	OwnerID     string   `json:"ownerId" validate:"required,uuid"`
	MemberIDs   []string `json:"memberIds" validate:"omitempty,dive,uuid"`
}

func (req createProjectRequest) params() (project.NewParams, error) {
	return project.NewParams{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		OwnerID:     req.OwnerID,
		MemberIDs:   req.MemberIDs,
	}, httputil.Validate(req)
}

type updateProjectRequest struct {
	Name        *string   `json:"name" validate:"omitnil,min=2,max=200"`
	Description *string   `json:"description" validate:"omitnil,max=1000"`
	Color       *string   `json:"color" validate:"omitnil,hexcolor,len=7"`
	OwnerID     *string   `json:"ownerId" validate:"omitnil,uuid"`
	MemberIDs   *[]string `json:"memberIds" validate:"omitnil,dive,uuid"`
}

func (req updateProjectRequest) patch() (project.Patch, error) {
	return project.Patch{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		OwnerID:     req.OwnerID,
		MemberIDs:   req.MemberIDs,
	}, httputil.Validate(req)
}

type createTaskRequest struct {
	Title          string        `json:"title" validate:"required,min=2,max=200"`
	Description    string        `json:"description" validate:"max=1000"`
	Type           co2.Category  `json:"type" validate:"required,oneof=LIGHT TECHNICAL INTENSIVE"`
	Priority       task.Priority `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	Status         task.Status   `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS REVIEW DONE"`
	AssigneeID     string        `json:"assigneeId" validate:"required,uuid"`
	ProjectID      string        `json:"projectId" validate:"required,uuid"`
	EstimatedHours *float64      `json:"estimatedHours" validate:"required,gte=0.1,lte=1000"`
	DueDate        string        `json:"dueDate" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func (req createTaskRequest) params() (task.NewParams, error) {
	if err := httputil.Validate(req); err != nil {
		return task.NewParams{}, err
	}

	return task.NewParams{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Type,
		Priority:       req.Priority,
		Status:         req.Status,
		AssigneeID:     req.AssigneeID,
		ProjectID:      req.ProjectID,
		EstimatedHours: *req.EstimatedHours,
		DueDate:        parseTime(req.DueDate),
	}, nil
}

type updateTaskRequest struct {
	Title          *string        `json:"title" validate:"omitnil,min=2,max=200"`
	Description    *string        `json:"description" validate:"omitnil,max=1000"`
	Type           *co2.Category  `json:"type" validate:"omitnil,oneof=LIGHT TECHNICAL INTENSIVE"`
	Priority       *task.Priority `json:"priority" validate:"omitnil,oneof=LOW MEDIUM HIGH URGENT"`
	Status         *task.Status   `json:"status" validate:"omitnil,oneof=TODO IN_PROGRESS REVIEW DONE"`
	AssigneeID     *string        `json:"assigneeId" validate:"omitnil,uuid"`
	ProjectID      *string        `json:"projectId" validate:"omitnil,uuid"`
	EstimatedHours *float64       `json:"estimatedHours" validate:"omitnil,gte=0.1,lte=1000"`
	ActualHours    *float64       `json:"actualHours" validate:"omitnil,gte=0,lte=1000"`
	DueDate        *string        `json:"dueDate" validate:"omitnil,datetime=2006-01-02T15:04:05Z07:00"`
	CompletedAt    *string        `json:"completedAt" validate:"omitnil,datetime=2006-01-02T15:04:05Z07:00"`
}

func (req updateTaskRequest) patch() (task.Patch, error) {
	if err := httputil.Validate(req); err != nil {
		return task.Patch{}, err
	}

	p := task.Patch{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Type,
		Priority:       req.Priority,
		Status:         req.Status,
		AssigneeID:     req.AssigneeID,
		ProjectID:      req.ProjectID,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
	}
	if req.DueDate != nil {
		due := parseTime(*req.DueDate)
		p.DueDate = &due
	}
	if req.CompletedAt != nil {
		completed := parseTime(*req.CompletedAt)
		p.CompletedAt = &completed
	}

	return p, nil
}

type statusRequest struct {
	Status task.Status `json:"status" validate:"required,oneof=TODO IN_PROGRESS REVIEW DONE"`
}

func (req statusRequest) validate() error {
	return httputil.Validate(req)
}

type recalculationJobRequest struct {
	ProjectIDs []string `json:"projectIds" validate:"omitempty,dive,uuid"`
}

type reportJobRequest struct {
	GroupBy    string `json:"groupBy" validate:"omitempty,oneof=project category assignee month"`
	StartTime  string `json:"startTime" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime    string `json:"endTime" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Format     string `json:"format" validate:"omitempty,oneof=csv json"`
	ScheduleIn int    `json:"scheduleIn" validate:"gte=0"`
}

func (req reportJobRequest) payload() (map[string]any, error) {
	return map[string]any{
		"group_by":    req.GroupBy,
		"start_time":  req.StartTime,
		"end_time":    req.EndTime,
		"format":      req.Format,
		"schedule_in": req.ScheduleIn,
	}, httputil.Validate(req)
}

// listQuery holds the paging and search parameters shared by list endpoints.
type listQuery struct {
	Page   int    `json:"page" validate:"gte=1"`
	Limit  int    `json:"limit" validate:"gte=1,lte=100"`
	Search string `json:"search" validate:"max=100"`
}

// queryInt returns def for an absent parameter and 0 for one that is not a
// number, which the range rules then reject.
func queryInt(q url.Values, key string, def int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}

	return n
}

func parseListQuery(q url.Values) listQuery {
	return listQuery{
		Page:   queryInt(q, "page", models.DefaultPage),
		Limit:  queryInt(q, "limit", models.DefaultLimit),
		Search: q.Get("search"),
	}
}

func (l listQuery) page() models.Page {
	return models.Page{Page: l.Page, Limit: l.Limit}
}

func parsePage(q url.Values) (models.Page, error) {
	l := parseListQuery(q)
	return l.page(), httputil.Validate(l)
}

type taskQuery struct {
	List       listQuery     `json:"-"`
	Status     task.Status   `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS REVIEW DONE"`
	Priority   task.Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Category   co2.Category  `json:"type" validate:"omitempty,oneof=LIGHT TECHNICAL INTENSIVE"`
	ProjectID  string        `json:"projectId" validate:"omitempty,uuid"`
	AssigneeID string        `json:"assigneeId" validate:"omitempty,uuid"`
}

func parseTaskFilter(q url.Values) (models.TaskFilter, error) {
	tq := taskQuery{
		List:       parseListQuery(q),
		Status:     task.Status(q.Get("status")),
		Priority:   task.Priority(q.Get("priority")),
		Category:   co2.Category(q.Get("type")),
		ProjectID:  q.Get("projectId"),
		AssigneeID: q.Get("assigneeId"),
	}

	return models.TaskFilter{
		Status:     tq.Status,
		Priority:   tq.Priority,
		Category:   tq.Category,
		ProjectID:  tq.ProjectID,
		AssigneeID: tq.AssigneeID,
		Search:     tq.List.Search,
		Page:       tq.List.page(),
	}, httputil.Validate(tq)
}

type projectQuery struct {
	List    listQuery `json:"-"`
	OwnerID string    `json:"ownerId" validate:"omitempty,uuid"`
}

func parseProjectFilter(q url.Values) (models.ProjectFilter, error) {
	pq := projectQuery{List: parseListQuery(q), OwnerID: q.Get("ownerId")}

	return models.ProjectFilter{
		OwnerID: pq.OwnerID,
		Search:  pq.List.Search,
		Page:    pq.List.page(),
	}, httputil.Validate(pq)
}
