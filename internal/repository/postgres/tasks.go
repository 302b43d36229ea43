package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
)

const taskColumns = `
	t.id, t.title, t.description, t.type, t.priority, t.status,
	t.assignee_id, t.project_id, t.estimated_hours, t.actual_hours,
	t.co2_emissions, t.due_date, t.completed_at, t.created_at, t.updated_at`

const expandedTaskColumns = taskColumns + `,
	u.name, u.email, p.name, p.color`

const expandedTaskFrom = `
	FROM tasks t
	JOIN users u ON u.id = t.assignee_id
	JOIN projects p ON p.id = t.project_id`

func scanTask(row rowScanner, extra ...any) (*task.Task, error) {
	var (
		t         task.Task
		actual    sql.NullFloat64
		emissions float64
		due       sql.NullTime
		completed sql.NullTime
	)

	dest := []any{
		&t.ID, &t.Title, &t.Description, &t.Category, &t.Priority, &t.Status,
		&t.AssigneeID, &t.ProjectID, &t.EstimatedHours, &actual,
		&emissions, &due, &completed, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if actual.Valid {
		t.ActualHours = &actual.Float64
	}
	if due.Valid {
		t.DueDate = due.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}

	return task.Rehydrate(&t, emissions), nil
}

func scanExpandedTask(row rowScanner) (*task.Task, error) {
	var assigneeName, assigneeEmail, projectName, projectColor string

	t, err := scanTask(row, &assigneeName, &assigneeEmail, &projectName, &projectColor)
	if err != nil {
		return nil, err
	}

	t.Assignee = &user.Summary{ID: t.AssigneeID, Name: assigneeName, Email: assigneeEmail}
	t.Project = &task.ProjectSummary{ID: t.ProjectID, Name: projectName, Color: projectColor}

	return t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `SELECT` + expandedTaskColumns + expandedTaskFrom + `
		WHERE t.id = $1`

	t, err := scanExpandedTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		return nil, classify(err, "task "+taskID)
	}

	return t, nil
}

// taskWhere builds the WHERE clause shared by ListTasks and its count query.
func taskWhere(filter models.TaskFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("t.status = $%d", string(filter.Status))
	}
	if filter.Priority != "" {
		add("t.priority = $%d", string(filter.Priority))
	}
	if filter.Category != "" {
		add("t.type = $%d", string(filter.Category))
	}
	if filter.ProjectID != "" {
		add("t.project_id = $%d", filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		add("t.assignee_id = $%d", filter.AssigneeID)
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		n := len(args)
		conds = append(conds, fmt.Sprintf("(t.title ILIKE $%d OR t.description ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*task.Task, int, error) {
	where, args := taskWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM tasks t` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count tasks")
	}

	page := filter.Page.Normalize()
	n := len(args)
	query := `SELECT` + expandedTaskColumns + expandedTaskFrom + where +
		fmt.Sprintf(" ORDER BY t.created_at DESC, t.id LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(err, "list tasks")
	}
	defer closeRows(rows)

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanExpandedTask(rows)
		if err != nil {
			return nil, 0, classify(err, "scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err, "list tasks")
	}

	return tasks, total, nil
}

func listProjectTasks(ctx context.Context, q queryer, projectID string) ([]*task.Task, error) {
	query := `SELECT` + expandedTaskColumns + expandedTaskFrom + `
		WHERE t.project_id = $1
		ORDER BY t.created_at DESC, t.id`

	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, classify(err, "list project tasks")
	}
	defer closeRows(rows)

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanExpandedTask(rows)
		if err != nil {
			return nil, classify(err, "scan task")
		}
		tasks = append(tasks, t)
	}

	return tasks, classify(rows.Err(), "list project tasks")
}
