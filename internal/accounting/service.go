// Package accounting keeps every project's cached emission total equal to the
// sum of its tasks' emissions. Each task mutation and the project-total refresh
// it triggers run in a single unit of work.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/metrics"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/rs/zerolog/log"
)

type constError string

func (e constError) Error() string { return string(e) }

var (
	// ErrAggregationIncomplete means a project's tasks could not all be read,
	// so no total was written.
	ErrAggregationIncomplete = constError("aggregation incomplete")

	// ErrInconsistentTotal means a project's stored total differs from the
	// sum of its tasks.
	ErrInconsistentTotal = constError("inconsistent project total")
)

// Triggers label why a project total was recomputed.
const (
	TriggerCreate = "create"
	TriggerUpdate = "update"
	TriggerDelete = "delete"
	TriggerMove   = "move"
	TriggerRepair = "repair"
	TriggerSweep  = "sweep"
)

// Store is the persistence the service needs.
type Store interface {
	repository.UnitOfWork
	ListProjectIDs(ctx context.Context) ([]string, error)
}

// Notifier is told when a project's total climbs into a higher tier. It is
// called after commit; its failure never undoes the mutation.
type Notifier interface {
	NotifyTierChange(ctx context.Context, change TierChange) error
}

type TierChange struct {
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	Previous    co2.Tier `json:"previous_tier"`
	Current     co2.Tier `json:"current_tier"`
	Total       float64  `json:"total_co2"`
}

// Recalculation is the outcome of refreshing one project's total.
type Recalculation struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	Previous    float64 `json:"previousTotalCO2"`
	Total       float64 `json:"totalCO2"`
	TaskCount   int     `json:"taskCount"`
}

// Drifted reports whether the stored total was wrong before the refresh.
func (r Recalculation) Drifted() bool {
	return r.Previous != r.Total
}

type Service struct {
	store    Store
	calc     *co2.Calculator
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, calc *co2.Calculator, opts ...Option) *Service {
	s := &Service{
		store: store,
		calc:  calc,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Calculator() *co2.Calculator {
	return s.calc
}

// CreateTask derives the task's emissions, inserts it and refreshes its project's total.
func (s *Service) CreateTask(ctx context.Context, params task.NewParams) (*task.Task, error) {
	now := s.now()
	t, err := task.New(params, s.calc, now)
	if err != nil {
		return nil, err
	}

	var (
		recalcs    []Recalculation
		refreshing bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := lockTarget(ctx, tx, t.ProjectID)
		if err != nil {
			return err
		}

		if err := tx.InsertTask(ctx, t); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}

		refreshing = true
		r, err := s.refresh(ctx, tx, p, now)
		if err != nil {
			return err
		}
		recalcs = append(recalcs, r)

		return nil
	})
	if err != nil {
		recordFailure(refreshing, TriggerCreate)
		return nil, err
	}

	metrics.RecordTaskCreated(string(t.Category), t.Emissions())
	s.afterCommit(ctx, TriggerCreate, recalcs)

	log.Info().
		Str("task_id", t.ID).
		Str("project_id", t.ProjectID).
		Str("type", string(t.Category)).
		Float64("co2_kg", t.Emissions()).
		Msg("task created")

	return t, nil
}

// UpdateTask applies patch. When the category or hours change, the task's
// emissions are recomputed and its project's total refreshed. When the task
// moves to another project, both projects are refreshed.
func (s *Service) UpdateTask(ctx context.Context, taskID string, patch task.Patch) (*task.Task, error) {
	now := s.now()

	var (
		updated    *task.Task
		change     task.Change
		recalcs    []Recalculation
		refreshing bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}

		change, err = t.Apply(patch, s.calc, now)
		if err != nil {
			return err
		}

		if !change.Affects() {
			if err := tx.UpdateTask(ctx, t); err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
			updated = t
			return nil
		}

		projects, err := lockProjects(ctx, tx, change.PreviousProjectID, t.ProjectID)
		if err != nil {
			return err
		}

		if err := tx.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		refreshing = true
		for _, p := range projects {
			r, err := s.refresh(ctx, tx, p, now)
			if err != nil {
				return err
			}
			recalcs = append(recalcs, r)
		}

		updated = t
		return nil
	})

	trigger := TriggerUpdate
	if change.ProjectChanged {
		trigger = TriggerMove
	}

	if err != nil {
		recordFailure(refreshing, trigger)
		return nil, err
	}

	s.afterCommit(ctx, trigger, recalcs)

	log.Info().
		Str("task_id", updated.ID).
		Str("project_id", updated.ProjectID).
		Bool("emissions_changed", change.EmissionsChanged).
		Bool("project_changed", change.ProjectChanged).
		Float64("co2_kg", updated.Emissions()).
		Msg("task updated")

	return updated, nil
}

// UpdateTaskStatus changes only the workflow status. Emissions and project
// totals are not touched.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) (*task.Task, error) {
	now := s.now()

	var updated *task.Task
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}

		t.SetStatus(status, now)
		if err := tx.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}

		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTaskStatusChange(string(status))

	return updated, nil
}

// DeleteTask removes the task and refreshes its project's total from the remaining tasks.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	now := s.now()

	var (
		recalcs    []Recalculation
		refreshing bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}

		p, err := tx.LockProject(ctx, t.ProjectID)
		if err != nil {
			return err
		}

		if err := tx.DeleteTask(ctx, taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		refreshing = true
		r, err := s.refresh(ctx, tx, p, now)
		if err != nil {
			return err
		}
		recalcs = append(recalcs, r)

		return nil
	})
	if err != nil {
		recordFailure(refreshing, TriggerDelete)
		return err
	}

	s.afterCommit(ctx, TriggerDelete, recalcs)
	log.Info().Str("task_id", taskID).Msg("task deleted")

	return nil
}

// RecalculateProject recomputes a project's total from scratch and overwrites
// the stored value. It is the repair path for drift and is safe to repeat.
func (s *Service) RecalculateProject(ctx context.Context, projectID string) (*project.Project, Recalculation, error) {
	return s.recalculate(ctx, projectID, TriggerRepair)
}

func (s *Service) recalculate(ctx context.Context, projectID, trigger string) (*project.Project, Recalculation, error) {
	now := s.now()

	var (
		refreshed  *project.Project
		result     Recalculation
		refreshing bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}

		refreshing = true
		result, err = s.refresh(ctx, tx, p, now)
		if err != nil {
			return err
		}

		refreshed = project.Rehydrate(p, result.Total)
		refreshed.UpdatedAt = now
		return nil
	})
	if err != nil {
		recordFailure(refreshing, trigger)
		return nil, Recalculation{}, err
	}

	if result.Drifted() {
		metrics.RecordDriftRepaired()
		log.Warn().
			Err(ErrInconsistentTotal).
			Str("project_id", projectID).
			Float64("stored_co2_kg", result.Previous).
			Float64("computed_co2_kg", result.Total).
			Msg("project total drift repaired")
	}
	s.afterCommit(ctx, trigger, []Recalculation{result})

	return refreshed, result, nil
}

// VerifyProject compares the stored total with a fresh aggregate without
// writing anything. Drift is reported as an error wrapping ErrInconsistentTotal.
func (s *Service) VerifyProject(ctx context.Context, projectID string) (Recalculation, error) {
	var result Recalculation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}

		emissions, err := tx.ListTaskEmissions(ctx, projectID)
		if err != nil {
			return fmt.Errorf("%w: project %s: %w", ErrAggregationIncomplete, projectID, err)
		}

		result = Recalculation{
			ProjectID:   projectID,
			ProjectName: p.Name,
			Previous:    p.TotalEmissions(),
			Total:       co2.Aggregate(emissions),
			TaskCount:   len(emissions),
		}
		return nil
	})
	if err != nil {
		return Recalculation{}, err
	}

	if result.Drifted() {
		return result, fmt.Errorf("%w: project %s stores %.2f, tasks sum to %.2f",
			ErrInconsistentTotal, projectID, result.Previous, result.Total)
	}

	return result, nil
}

// SweepResult summarises a RecalculateAll run.
type SweepResult struct {
	Projects int               `json:"projects"`
	Repaired []Recalculation   `json:"repaired"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// RecalculateAll refreshes every project, one transaction per project. A
// failure on one project does not stop the sweep; all failures are joined
// into the returned error.
func (s *Service) RecalculateAll(ctx context.Context) (SweepResult, error) {
	ids, err := s.store.ListProjectIDs(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list projects: %w", err)
	}

	result := SweepResult{Projects: len(ids), Repaired: []Recalculation{}}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, r, err := s.recalculate(ctx, id, TriggerSweep)
		if err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			errs = append(errs, fmt.Errorf("project %s: %w", id, err))
			continue
		}
		if r.Drifted() {
			result.Repaired = append(result.Repaired, r)
		}
	}

	log.Info().
		Int("projects", result.Projects).
		Int("repaired", len(result.Repaired)).
		Int("failed", len(result.Failed)).
		Msg("project totals sweep finished")

	return result, errors.Join(errs...)
}

// recordFailure counts a rolled back unit of work once its total refresh had
// started. Earlier rejections never reached the aggregate.
func recordFailure(refreshing bool, trigger string) {
	if refreshing {
		metrics.RecordRecalculationFailure(trigger)
	}
}

// refresh aggregates every task currently in p and overwrites p's total. It
// must run inside the transaction that holds p's lock.
func (s *Service) refresh(ctx context.Context, tx repository.Tx, p *project.Project, now time.Time) (Recalculation, error) {
	emissions, err := tx.ListTaskEmissions(ctx, p.ID)
	if err != nil {
		return Recalculation{}, fmt.Errorf("%w: project %s: %w", ErrAggregationIncomplete, p.ID, err)
	}

	total := co2.Aggregate(emissions)
	if err := tx.SetProjectTotal(ctx, p.ID, total, now); err != nil {
		return Recalculation{}, fmt.Errorf("failed to store total for project %s: %w", p.ID, err)
	}

	r := Recalculation{
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Previous:    p.TotalEmissions(),
		Total:       total,
		TaskCount:   len(emissions),
	}
	project.Rehydrate(p, total)

	return r, nil
}

// lockTarget locks the project a task is written into. A missing project is
// a dangling projectId on the request, not a missing resource.
func lockTarget(ctx context.Context, tx repository.Tx, projectID string) (*project.Project, error) {
	p, err := tx.LockProject(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &repository.ReferenceError{Field: "projectId", ID: projectID}
	}

	return p, err
}

// lockProjects locks source and target in ascending id order.
func lockProjects(ctx context.Context, tx repository.Tx, source, target string) ([]*project.Project, error) {
	unique := make([]string, 0, 2)
	for _, id := range []string{source, target} {
		if id != "" && (len(unique) == 0 || unique[0] != id) {
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	projects := make([]*project.Project, 0, len(unique))
	for _, id := range unique {
		lock := tx.LockProject
		if id == target {
			lock = func(ctx context.Context, id string) (*project.Project, error) {
				return lockTarget(ctx, tx, id)
			}
		}
		p, err := lock(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, nil
}

func (s *Service) afterCommit(ctx context.Context, trigger string, recalcs []Recalculation) {
	for _, r := range recalcs {
		metrics.RecordRecalculation(trigger, r.Total)

		previous, current := co2.Classify(r.Previous), co2.Classify(r.Total)
		if s.notifier == nil || !current.Exceeds(previous) || current != co2.TierHigh {
			continue
		}

		change := TierChange{
			ProjectID:   r.ProjectID,
			ProjectName: r.ProjectName,
			Previous:    previous,
			Current:     current,
			Total:       r.Total,
		}
		if err := s.notifier.NotifyTierChange(ctx, change); err != nil {
			log.Error().Err(err).Str("project_id", r.ProjectID).Msg("failed to send emission alert")
		}
	}
}
