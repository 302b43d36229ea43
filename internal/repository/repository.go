// Package repository declares the persistence contract for users, projects and
// tasks, including the unit of work the emission accounting runs inside.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("resource already exists or is still referenced")
	ErrInvalidReference = errors.New("referenced resource does not exist")
	ErrUnavailable      = errors.New("storage unavailable")
)

// ReferenceError names the request field whose id points at nothing.
// It matches ErrInvalidReference under errors.Is.
type ReferenceError struct {
	Field string
	ID    string
}

func (e *ReferenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Field, ErrInvalidReference)
	}

	return fmt.Sprintf("%s %s: %s", e.Field, e.ID, ErrInvalidReference)
}

func (e *ReferenceError) Unwrap() error { return ErrInvalidReference }

// Tx is the set of writes the emission accounting performs. All calls made
// through one Tx commit or roll back together.
type Tx interface {
	// LockProject loads the project and holds a write lock on it until the
	// transaction ends.
	LockProject(ctx context.Context, projectID string) (*project.Project, error)
	GetTaskForUpdate(ctx context.Context, taskID string) (*task.Task, error)
	InsertTask(ctx context.Context, t *task.Task) error
	UpdateTask(ctx context.Context, t *task.Task) error
	DeleteTask(ctx context.Context, taskID string) error
	ListTaskEmissions(ctx context.Context, projectID string) ([]float64, error)
	SetProjectTotal(ctx context.Context, projectID string, total float64, at time.Time) error
}

type UnitOfWork interface {
	// WithinTx runs fn in a transaction. A non-nil error from fn rolls back
	// every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, userID string) (*user.User, error)
	ListUsers(ctx context.Context, page models.Page) ([]*user.User, int, error)
	UpdateUser(ctx context.Context, u *user.User) error
	DeleteUser(ctx context.Context, userID string) error
}

type ProjectRepository interface {
	CreateProject(ctx context.Context, p *project.Project) error
	GetProject(ctx context.Context, projectID string) (*project.Project, error)
	ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*project.Project, int, error)
	// UpdateProject writes descriptive fields and, when replaceMembers is set,
	// swaps the member list. The emission total is never written here.
	UpdateProject(ctx context.Context, p *project.Project, replaceMembers bool) error
	DeleteProject(ctx context.Context, projectID string) error
	ListProjectIDs(ctx context.Context) ([]string, error)
}

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*task.Task, int, error)
}

type StatsRepository interface {
	Totals(ctx context.Context) (models.Totals, error)
	TopProjectsByCO2(ctx context.Context, limit int) ([]models.ProjectCO2, error)
	ProjectsForUser(ctx context.Context, userID string) ([]models.ProjectCO2, error)
	CO2ByCategory(ctx context.Context, scope models.Scope) ([]models.CategoryCO2, error)
	CO2ByPeriod(ctx context.Context, scope models.Scope, bucket string, since time.Time) ([]models.PeriodCO2, error)
	TaskBreakdown(ctx context.Context, scope models.Scope) ([]models.TaskGroupStats, error)
	MemberCO2(ctx context.Context, projectID string) ([]models.MemberCO2, error)
	ReportRows(ctx context.Context, groupBy string, from, to time.Time) ([]models.ReportRow, error)
}

// Store is everything the HTTP API needs from persistence.
type Store interface {
	UnitOfWork
	UserRepository
	ProjectRepository
	TaskRepository
	Close() error
}
