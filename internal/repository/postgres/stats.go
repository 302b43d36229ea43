package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/ecotask/internal/repository/models"
)

// scopeConds appends the task conditions of scope to args.
func scopeConds(scope models.Scope, args []any) ([]string, []any) {
	var conds []string
	if scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		conds = append(conds, fmt.Sprintf("t.project_id = $%d", len(args)))
	}
	if scope.AssigneeID != "" {
		args = append(args, scope.AssigneeID)
		conds = append(conds, fmt.Sprintf("t.assignee_id = $%d", len(args)))
	}

	return conds, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(conds, " AND ")
}

func (s *Store) Totals(ctx context.Context) (models.Totals, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM projects),
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM tasks WHERE status = 'DONE')
	`

	var t models.Totals
	if err := s.db.QueryRowContext(ctx, query).Scan(&t.Users, &t.Projects, &t.Tasks, &t.CompletedTasks); err != nil {
		return models.Totals{}, classify(err, "totals")
	}

	return t, nil
}

func (s *Store) queryProjectCO2(ctx context.Context, query string, args ...any) ([]models.ProjectCO2, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "project co2")
	}
	defer closeRows(rows)

	out := []models.ProjectCO2{}
	for rows.Next() {
		var p models.ProjectCO2
		if err := rows.Scan(&p.ProjectID, &p.ProjectName, &p.CO2Amount, &p.TaskCount); err != nil {
			return nil, classify(err, "scan project co2")
		}
		out = append(out, p)
	}

	return out, classify(rows.Err(), "project co2")
}

func (s *Store) TopProjectsByCO2(ctx context.Context, limit int) ([]models.ProjectCO2, error) {
	query := `
		SELECT p.id, p.name, p.total_co2, COUNT(t.id)
		FROM projects p
		LEFT JOIN tasks t ON t.project_id = p.id
		GROUP BY p.id, p.name, p.total_co2
		ORDER BY p.total_co2 DESC, p.name
		LIMIT $1
	`

	return s.queryProjectCO2(ctx, query, limit)
}

// ProjectsForUser lists the projects the user owns or is a member of.
func (s *Store) ProjectsForUser(ctx context.Context, userID string) ([]models.ProjectCO2, error) {
	query := `
		SELECT p.id, p.name, p.total_co2, COUNT(t.id)
		FROM projects p
		LEFT JOIN tasks t ON t.project_id = p.id
		WHERE p.owner_id = $1
		   OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
		GROUP BY p.id, p.name, p.total_co2
		ORDER BY p.total_co2 DESC, p.name
	`

	return s.queryProjectCO2(ctx, query, userID)
}

func (s *Store) CO2ByCategory(ctx context.Context, scope models.Scope) ([]models.CategoryCO2, error) {
	conds, args := scopeConds(scope, nil)
	query := `SELECT t.type, COALESCE(SUM(t.co2_emissions), 0) FROM tasks t` + whereClause(conds) + `
		GROUP BY t.type
		ORDER BY t.type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "co2 by category")
	}
	defer closeRows(rows)

	out := []models.CategoryCO2{}
	for rows.Next() {
		var c models.CategoryCO2
		if err := rows.Scan(&c.Category, &c.CO2Amount); err != nil {
			return nil, classify(err, "scan co2 by category")
		}
		out = append(out, c)
	}

	return out, classify(rows.Err(), "co2 by category")
}

// CO2ByPeriod buckets task emissions by creation week or month. Weeks are
// labelled by their Monday (2006-01-02), months as 2006-01.
func (s *Store) CO2ByPeriod(ctx context.Context, scope models.Scope, bucket string, since time.Time) ([]models.PeriodCO2, error) {
	layout := "2006-01"
	switch bucket {
	case models.BucketMonth:
	case models.BucketWeek:
		layout = "2006-01-02"
	default:
		return nil, fmt.Errorf("unsupported period bucket %q", bucket)
	}

	args := []any{bucket, since}
	conds, args := scopeConds(scope, args)
	conds = append([]string{"t.created_at >= $2"}, conds...)

	query := `SELECT date_trunc($1, t.created_at) AS period, COALESCE(SUM(t.co2_emissions), 0), COUNT(*)
		FROM tasks t` + whereClause(conds) + `
		GROUP BY period
		ORDER BY period`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "co2 by period")
	}
	defer closeRows(rows)

	out := []models.PeriodCO2{}
	for rows.Next() {
		var (
			period time.Time
			p      models.PeriodCO2
		)
		if err := rows.Scan(&period, &p.CO2Amount, &p.TaskCount); err != nil {
			return nil, classify(err, "scan co2 by period")
		}
		p.Period = period.UTC().Format(layout)
		out = append(out, p)
	}

	return out, classify(rows.Err(), "co2 by period")
}

func (s *Store) TaskBreakdown(ctx context.Context, scope models.Scope) ([]models.TaskGroupStats, error) {
	conds, args := scopeConds(scope, nil)
	query := `SELECT t.status, t.type, t.priority, COUNT(*),
			COALESCE(SUM(t.co2_emissions), 0),
			COALESCE(SUM(t.estimated_hours), 0),
			COALESCE(SUM(t.actual_hours), 0)
		FROM tasks t` + whereClause(conds) + `
		GROUP BY t.status, t.type, t.priority
		ORDER BY t.status, t.type, t.priority`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "task breakdown")
	}
	defer closeRows(rows)

	out := []models.TaskGroupStats{}
	for rows.Next() {
		var g models.TaskGroupStats
		if err := rows.Scan(&g.Status, &g.Category, &g.Priority, &g.Count, &g.CO2Amount, &g.EstimatedHours, &g.ActualHours); err != nil {
			return nil, classify(err, "scan task breakdown")
		}
		out = append(out, g)
	}

	return out, classify(rows.Err(), "task breakdown")
}

func (s *Store) MemberCO2(ctx context.Context, projectID string) ([]models.MemberCO2, error) {
	query := `
		SELECT u.id, u.name, COUNT(t.id), COALESCE(SUM(t.co2_emissions), 0) AS co2
		FROM tasks t
		JOIN users u ON u.id = t.assignee_id
		WHERE t.project_id = $1
		GROUP BY u.id, u.name
		ORDER BY co2 DESC, u.name
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, classify(err, "member co2")
	}
	defer closeRows(rows)

	out := []models.MemberCO2{}
	for rows.Next() {
		var m models.MemberCO2
		if err := rows.Scan(&m.UserID, &m.UserName, &m.TaskCount, &m.CO2Amount); err != nil {
			return nil, classify(err, "scan member co2")
		}
		out = append(out, m)
	}

	return out, classify(rows.Err(), "member co2")
}

var reportKeys = map[string][2]string{
	models.GroupByProject:  {"p.id::text", "p.name"},
	models.GroupByCategory: {"t.type", "t.type"},
	models.GroupByAssignee: {"u.id::text", "u.name"},
	models.GroupByMonth:    {"to_char(date_trunc('month', t.created_at), 'YYYY-MM')", "to_char(date_trunc('month', t.created_at), 'YYYY-MM')"},
}

// ReportRows aggregates tasks created in [from, to) by groupBy.
func (s *Store) ReportRows(ctx context.Context, groupBy string, from, to time.Time) ([]models.ReportRow, error) {
	cols, ok := reportKeys[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported report grouping %q", groupBy)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS key, %[2]s AS label, COUNT(*),
			COALESCE(SUM(t.estimated_hours), 0),
			COALESCE(SUM(t.co2_emissions), 0) AS co2
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		JOIN users u ON u.id = t.assignee_id
		WHERE t.created_at >= $1 AND t.created_at < $2
		GROUP BY 1, 2
		ORDER BY co2 DESC, label
	`, cols[0], cols[1])

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, classify(err, "report rows")
	}
	defer closeRows(rows)

	out := []models.ReportRow{}
	for rows.Next() {
		var r models.ReportRow
		if err := rows.Scan(&r.Key, &r.Label, &r.TaskCount, &r.Hours, &r.CO2Amount); err != nil {
			return nil, classify(err, "scan report row")
		}
		out = append(out, r)
	}

	return out, classify(rows.Err(), "report rows")
}
