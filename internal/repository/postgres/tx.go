package postgres

import (
	"context"
	"time"

	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/task"
)

// tx implements repository.Tx on a single *sql.Tx.
type tx struct {
	q queryer
}

// LockProject serializes recalculations of one project. FOR NO KEY UPDATE
// leaves the KEY SHARE locks of task foreign key checks unblocked.
func (t *tx) LockProject(ctx context.Context, projectID string) (*project.Project, error) {
	query := `
		SELECT id, name, description, color, owner_id, total_co2, created_at, updated_at
		FROM projects
		WHERE id = $1
		FOR NO KEY UPDATE
	`

	var (
		p     project.Project
		total float64
	)
	err := t.q.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Color,
		&p.OwnerID,
		&total,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "lock project "+projectID)
	}
	p.MemberIDs = []string{}

	return project.Rehydrate(&p, total), nil
}

func (t *tx) GetTaskForUpdate(ctx context.Context, taskID string) (*task.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks t
		WHERE t.id = $1
		FOR UPDATE`

	tsk, err := scanTask(t.q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		return nil, classify(err, "lock task "+taskID)
	}

	return tsk, nil
}

func (t *tx) InsertTask(ctx context.Context, tsk *task.Task) error {
	query := `
		INSERT INTO tasks (
			id, title, description, type, priority, status,
			assignee_id, project_id, estimated_hours, actual_hours,
			co2_emissions, due_date, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := t.q.ExecContext(
		ctx,
		query,
		tsk.ID,
		tsk.Title,
		tsk.Description,
		string(tsk.Category),
		string(tsk.Priority),
		string(tsk.Status),
		tsk.AssigneeID,
		tsk.ProjectID,
		tsk.EstimatedHours,
		nullFloatPtr(tsk.ActualHours),
		tsk.Emissions(),
		nullTime(tsk.DueDate),
		nullTimePtr(tsk.CompletedAt),
		tsk.CreatedAt,
		tsk.UpdatedAt,
	)

	return classify(err, "insert task "+tsk.ID)
}

func (t *tx) UpdateTask(ctx context.Context, tsk *task.Task) error {
	query := `
		UPDATE tasks
		SET title = $1,
		    description = $2,
		    type = $3,
		    priority = $4,
		    status = $5,
		    assignee_id = $6,
		    project_id = $7,
		    estimated_hours = $8,
		    actual_hours = $9,
		    co2_emissions = $10,
		    due_date = $11,
		    completed_at = $12,
		    updated_at = $13
		WHERE id = $14
	`

	res, err := t.q.ExecContext(
		ctx,
		query,
		tsk.Title,
		tsk.Description,
		string(tsk.Category),
		string(tsk.Priority),
		string(tsk.Status),
		tsk.AssigneeID,
		tsk.ProjectID,
		tsk.EstimatedHours,
		nullFloatPtr(tsk.ActualHours),
		tsk.Emissions(),
		nullTime(tsk.DueDate),
		nullTimePtr(tsk.CompletedAt),
		tsk.UpdatedAt,
		tsk.ID,
	)
	if err != nil {
		return classify(err, "update task "+tsk.ID)
	}

	return expectOneRow(res, "task "+tsk.ID)
}

func (t *tx) DeleteTask(ctx context.Context, taskID string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return classify(err, "delete task "+taskID)
	}

	return expectOneRow(res, "task "+taskID)
}

// ListTaskEmissions returns every task emission of the project, or nothing on a read error.
func (t *tx) ListTaskEmissions(ctx context.Context, projectID string) ([]float64, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT co2_emissions FROM tasks WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, classify(err, "list task emissions")
	}
	defer closeRows(rows)

	emissions := []float64{}
	for rows.Next() {
		var e float64
		if err := rows.Scan(&e); err != nil {
			return nil, classify(err, "scan task emissions")
		}
		emissions = append(emissions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list task emissions")
	}

	return emissions, nil
}

func (t *tx) SetProjectTotal(ctx context.Context, projectID string, total float64, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `UPDATE projects SET total_co2 = $1, updated_at = $2 WHERE id = $3`, total, at, projectID)
	if err != nil {
		return classify(err, "set project total "+projectID)
	}

	return expectOneRow(res, "project "+projectID)
}
