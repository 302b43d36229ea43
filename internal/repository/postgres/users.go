package postgres

import (
	"context"

	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/user"
)

const userColumns = `id, name, email, role, created_at, updated_at`

func scanUser(row rowScanner) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}

	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return classify(err, "create user "+u.Email)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*user.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, classify(err, "user "+userID)
	}

	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, page models.Page) ([]*user.User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, classify(err, "count users")
	}

	page = page.Normalize()
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, classify(err, "list users")
	}
	defer closeRows(rows)

	users := []*user.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, classify(err, "scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err, "list users")
	}

	return users, total, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *user.User) error {
	query := `
		UPDATE users
		SET name = $1, email = $2, role = $3, updated_at = $4
		WHERE id = $5
	`

	res, err := s.db.ExecContext(ctx, query, u.Name, u.Email, string(u.Role), u.UpdatedAt, u.ID)
	if err != nil {
		return classify(err, "update user "+u.ID)
	}

	return expectOneRow(res, "user "+u.ID)
}

// DeleteUser fails with ErrConflict while the user owns a project or is assigned a task.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return classifyDelete(err, "delete user "+userID)
	}

	return expectOneRow(res, "user "+userID)
}
