package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/user"
)

const projectColumns = `
	p.id, p.name, p.description, p.color, p.owner_id, p.total_co2,
	p.created_at, p.updated_at,
	o.name, o.email,
	(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id)`

const projectFrom = `
	FROM projects p
	JOIN users o ON o.id = p.owner_id`

func scanProject(row rowScanner) (*project.Project, error) {
	var (
		p          project.Project
		total      float64
		ownerName  string
		ownerEmail string
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Color,
		&p.OwnerID,
		&total,
		&p.CreatedAt,
		&p.UpdatedAt,
		&ownerName,
		&ownerEmail,
		&p.TaskCount,
	)
	if err != nil {
		return nil, err
	}

	p.Owner = &user.Summary{ID: p.OwnerID, Name: ownerName, Email: ownerEmail}
	p.MemberIDs = []string{}
	p.Members = []user.Summary{}

	return project.Rehydrate(&p, total), nil
}

// CreateProject stores the project with a zero total. Members are inserted in
// the same transaction.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer func() { _ = sqlTx.Rollback() }()

	query := `
		INSERT INTO projects (id, name, description, color, owner_id, total_co2, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`
	if _, err := sqlTx.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.Color, p.OwnerID, p.CreatedAt, p.UpdatedAt); err != nil {
		return classify(err, "create project "+p.Name)
	}

	if err := insertMembers(ctx, sqlTx, p.ID, p.MemberIDs); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	project.Rehydrate(p, 0)

	return nil
}

func insertMembers(ctx context.Context, q queryer, projectID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO project_members (project_id, user_id)
		SELECT $1, UNNEST($2::uuid[])
		ON CONFLICT DO NOTHING
	`
	if _, err := q.ExecContext(ctx, query, projectID, pq.Array(memberIDs)); err != nil {
		return classify(err, "add members to project "+projectID)
	}

	return nil
}

// loadMembers fills Members and MemberIDs for every given project in one query.
func loadMembers(ctx context.Context, q queryer, projects ...*project.Project) error {
	if len(projects) == 0 {
		return nil
	}

	byID := make(map[string]*project.Project, len(projects))
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query := `
		SELECT pm.project_id, u.id, u.name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = ANY($1)
		ORDER BY u.name, u.id
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return classify(err, "list project members")
	}
	defer closeRows(rows)

	for rows.Next() {
		var projectID string
		var m user.Summary
		if err := rows.Scan(&projectID, &m.ID, &m.Name, &m.Email); err != nil {
			return classify(err, "scan project member")
		}
		if p, ok := byID[projectID]; ok {
			p.MemberIDs = append(p.MemberIDs, m.ID)
			p.Members = append(p.Members, m)
		}
	}

	return classify(rows.Err(), "list project members")
}

// GetProject returns the project with its owner, members and tasks.
func (s *Store) GetProject(ctx context.Context, projectID string) (*project.Project, error) {
	query := `SELECT` + projectColumns + projectFrom + `
		WHERE p.id = $1`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return nil, classify(err, "project "+projectID)
	}

	if err := loadMembers(ctx, s.db, p); err != nil {
		return nil, err
	}

	p.Tasks, err = listProjectTasks(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func projectWhere(filter models.ProjectFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("p.owner_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		n := len(args)
		conds = append(conds, fmt.Sprintf("(p.name ILIKE $%d OR p.description ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*project.Project, int, error) {
	where, args := projectWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects p`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count projects")
	}

	page := filter.Page.Normalize()
	n := len(args)
	query := `SELECT` + projectColumns + projectFrom + where +
		fmt.Sprintf(" ORDER BY p.created_at DESC, p.id LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(err, "list projects")
	}
	defer closeRows(rows)

	projects := []*project.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, classify(err, "scan project")
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err, "list projects")
	}

	if err := loadMembers(ctx, s.db, projects...); err != nil {
		return nil, 0, err
	}

	return projects, total, nil
}

// UpdateProject never writes total_co2.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project, replaceMembers bool) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer func() { _ = sqlTx.Rollback() }()

	query := `
		UPDATE projects
		SET name = $1, description = $2, color = $3, owner_id = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := sqlTx.ExecContext(ctx, query, p.Name, p.Description, p.Color, p.OwnerID, p.UpdatedAt, p.ID)
	if err != nil {
		return classify(err, "update project "+p.ID)
	}
	if err := expectOneRow(res, "project "+p.ID); err != nil {
		return err
	}

	if replaceMembers {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1`, p.ID); err != nil {
			return classify(err, "clear members of project "+p.ID)
		}
		if err := insertMembers(ctx, sqlTx, p.ID, p.MemberIDs); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}

	return nil
}

// DeleteProject removes the project together with its tasks and memberships.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return classifyDelete(err, "delete project "+projectID)
	}

	return expectOneRow(res, "project "+projectID)
}

func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, classify(err, "list project ids")
	}
	defer closeRows(rows)

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scan project id")
		}
		ids = append(ids, id)
	}

	return ids, classify(rows.Err(), "list project ids")
}

var _ repository.Store = (*Store)(nil)
var _ repository.StatsRepository = (*Store)(nil)
