package accounting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/metrics"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []TierChange
	err     error
}

func (n *recordingNotifier) NotifyTierChange(_ context.Context, change TierChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.changes = append(n.changes, change)
	return n.err
}

type fixture struct {
	store    *repository.MemoryStore
	svc      *Service
	notifier *recordingNotifier
	owner    *user.User
	projectA *project.Project
	projectB *project.Project
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	owner := user.New("Ada Lovelace", "ada@example.com", user.AdminRole, fixedNow)
	require.NoError(t, store.CreateUser(ctx, owner))

	a := project.New(project.NewParams{Name: "Website", OwnerID: owner.ID}, fixedNow)
	b := project.New(project.NewParams{Name: "Render farm", OwnerID: owner.ID}, fixedNow)
	require.NoError(t, store.CreateProject(ctx, a))
	require.NoError(t, store.CreateProject(ctx, b))

	notifier := &recordingNotifier{}
	svc := NewService(store, co2.NewCalculator(co2.DefaultRateTable()),
		WithNotifier(notifier),
		WithClock(func() time.Time { return fixedNow }),
	)

	return &fixture{store: store, svc: svc, notifier: notifier, owner: owner, projectA: a, projectB: b}
}

func (f *fixture) createTask(t *testing.T, projectID string, category co2.Category, hours float64) *task.Task {
	t.Helper()

	created, err := f.svc.CreateTask(context.Background(), task.NewParams{
		Title:          "task",
		Category:       category,
		Priority:       task.MediumPriority,
		AssigneeID:     f.owner.ID,
		ProjectID:      projectID,
		EstimatedHours: hours,
		DueDate:        fixedNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	return created
}

func (f *fixture) total(t *testing.T, projectID string) float64 {
	t.Helper()

	p, err := f.store.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	return p.TotalEmissions()
}

// assertConsistent checks that the stored total equals the aggregate of the
// project's tasks as they are stored.
func (f *fixture) assertConsistent(t *testing.T, projectID string) {
	t.Helper()

	tasks, _, err := f.store.ListTasks(context.Background(), models.TaskFilter{
		ProjectID: projectID,
		Page:      models.Page{Page: 1, Limit: models.MaxLimit},
	})
	require.NoError(t, err)

	emissions := make([]float64, 0, len(tasks))
	for _, tsk := range tasks {
		emissions = append(emissions, tsk.Emissions())
	}
	assert.Equal(t, co2.Aggregate(emissions), f.total(t, projectID), "project %s total drifted", projectID)
}

func TestCreateTask_UpdatesProjectTotal(t *testing.T) {
	f := setupService(t)

	created := f.createTask(t, f.projectA.ID, co2.Intensive, 2)

	assert.Equal(t, 7.0, created.Emissions())
	assert.Equal(t, 7.0, f.total(t, f.projectA.ID))
	assert.Equal(t, 0.0, f.total(t, f.projectB.ID))
	f.assertConsistent(t, f.projectA.ID)
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, task.NewParams{
		Title:          "bad",
		Category:       co2.Category("NUCLEAR"),
		AssigneeID:     f.owner.ID,
		ProjectID:      f.projectA.ID,
		EstimatedHours: 1,
	})
	assert.ErrorIs(t, err, co2.ErrUnknownCategory)

	_, err = f.svc.CreateTask(ctx, task.NewParams{
		Title:          "bad",
		Category:       co2.Light,
		AssigneeID:     f.owner.ID,
		ProjectID:      f.projectA.ID,
		EstimatedHours: -1,
	})
	assert.ErrorIs(t, err, co2.ErrInvalidDuration)

	assert.Equal(t, 0, f.store.CallCount("Begin"), "invalid input must not open a transaction")
}

func TestCreateTask_UnknownProject(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.CreateTask(context.Background(), task.NewParams{
		Title:          "orphan",
		Category:       co2.Light,
		AssigneeID:     f.owner.ID,
		ProjectID:      "missing",
		EstimatedHours: 1,
	})
	assert.ErrorIs(t, err, repository.ErrInvalidReference)

	var ref *repository.ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "projectId", ref.Field)
	assert.Equal(t, "missing", ref.ID)
}

func TestCreateTask_RollsBackWhenTotalWriteFails(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Technical, 1.5)

	f.store.FailOn("SetProjectTotal", errors.New("connection reset"))
	_, err := f.svc.CreateTask(context.Background(), task.NewParams{
		Title:          "lost",
		Category:       co2.Intensive,
		AssigneeID:     f.owner.ID,
		ProjectID:      f.projectA.ID,
		EstimatedHours: 10,
	})
	require.Error(t, err)

	f.store.FailOn("SetProjectTotal", nil)
	_, count, err := f.store.ListTasks(context.Background(), models.TaskFilter{ProjectID: f.projectA.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "task insert must be rolled back")
	assert.Equal(t, 1.5, f.total(t, f.projectA.ID))
}

func TestCreateTask_AggregationIncomplete(t *testing.T) {
	f := setupService(t)

	f.store.FailOn("ListTaskEmissions", errors.New("read timeout"))
	_, err := f.svc.CreateTask(context.Background(), task.NewParams{
		Title:          "x",
		Category:       co2.Light,
		AssigneeID:     f.owner.ID,
		ProjectID:      f.projectA.ID,
		EstimatedHours: 1,
	})

	assert.ErrorIs(t, err, ErrAggregationIncomplete)
	assert.Equal(t, 0, f.store.CallCount("SetProjectTotal"), "no partial total may be written")
	assert.Equal(t, 0, f.store.CallCount("Commit"))
}

func TestDeleteTask_RecalculatesRemaining(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Technical, 1.5)
	f.createTask(t, f.projectA.ID, co2.Technical, 2.3)
	last := f.createTask(t, f.projectA.ID, co2.Technical, 0.7)

	assert.Equal(t, 4.5, f.total(t, f.projectA.ID))

	require.NoError(t, f.svc.DeleteTask(context.Background(), last.ID))

	assert.Equal(t, 3.8, f.total(t, f.projectA.ID))
	f.assertConsistent(t, f.projectA.ID)
}

func TestDeleteTask_NotFound(t *testing.T) {
	f := setupService(t)

	err := f.svc.DeleteTask(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteTask_RollsBack(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Intensive, 1)

	f.store.FailOn("Commit", errors.New("serialization failure"))
	err := f.svc.DeleteTask(context.Background(), tsk.ID)
	require.Error(t, err)
	f.store.FailOn("Commit", nil)

	_, err = f.store.GetTask(context.Background(), tsk.ID)
	require.NoError(t, err, "task must survive a failed commit")
	assert.Equal(t, 3.5, f.total(t, f.projectA.ID))
}

func TestUpdateTask_RecomputesEmissions(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Technical, 5)
	f.createTask(t, f.projectA.ID, co2.Light, 10)

	hours := 1.333
	updated, err := f.svc.UpdateTask(context.Background(), tsk.ID, task.Patch{EstimatedHours: &hours})
	require.NoError(t, err)

	assert.Equal(t, 1.33, updated.Emissions())
	assert.Equal(t, 2.33, f.total(t, f.projectA.ID))
	f.assertConsistent(t, f.projectA.ID)

	category := co2.Intensive
	updated, err = f.svc.UpdateTask(context.Background(), tsk.ID, task.Patch{Category: &category})
	require.NoError(t, err)

	assert.Equal(t, 4.67, updated.Emissions())
	f.assertConsistent(t, f.projectA.ID)
}

func TestUpdateTask_DescriptiveChangeSkipsRecalculation(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Technical, 5)
	writes := f.store.CallCount("SetProjectTotal")

	title := "renamed"
	hours := 5.0
	updated, err := f.svc.UpdateTask(context.Background(), tsk.ID, task.Patch{Title: &title, EstimatedHours: &hours})
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, writes, f.store.CallCount("SetProjectTotal"))
	f.assertConsistent(t, f.projectA.ID)
}

func TestUpdateTask_MoveRecalculatesBothProjects(t *testing.T) {
	f := setupService(t)
	moving := f.createTask(t, f.projectA.ID, co2.Intensive, 2)
	f.createTask(t, f.projectA.ID, co2.Light, 5)
	f.createTask(t, f.projectB.ID, co2.Technical, 1)

	target := f.projectB.ID
	updated, err := f.svc.UpdateTask(context.Background(), moving.ID, task.Patch{ProjectID: &target})
	require.NoError(t, err)

	assert.Equal(t, f.projectB.ID, updated.ProjectID)
	assert.Equal(t, 0.5, f.total(t, f.projectA.ID))
	assert.Equal(t, 8.0, f.total(t, f.projectB.ID))
	f.assertConsistent(t, f.projectA.ID)
	f.assertConsistent(t, f.projectB.ID)
}

func TestUpdateTask_MoveToMissingProjectRollsBack(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Intensive, 2)

	target := "missing"
	_, err := f.svc.UpdateTask(context.Background(), tsk.ID, task.Patch{ProjectID: &target})
	var ref *repository.ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "projectId", ref.Field)

	stored, err := f.store.GetTask(context.Background(), tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, f.projectA.ID, stored.ProjectID)
	assert.Equal(t, 7.0, f.total(t, f.projectA.ID))
}

func TestUpdateTask_RollsBackEmissionsWhenTotalWriteFails(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Technical, 4)

	f.store.FailOn("SetProjectTotal", errors.New("disk full"))
	hours := 40.0
	_, err := f.svc.UpdateTask(context.Background(), tsk.ID, task.Patch{EstimatedHours: &hours})
	require.Error(t, err)
	f.store.FailOn("SetProjectTotal", nil)

	stored, err := f.store.GetTask(context.Background(), tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, stored.EstimatedHours)
	assert.Equal(t, 4.0, stored.Emissions())
	assert.Equal(t, 4.0, f.total(t, f.projectA.ID))
}

func TestUpdateTaskStatus_LeavesTotalsAlone(t *testing.T) {
	f := setupService(t)
	tsk := f.createTask(t, f.projectA.ID, co2.Technical, 3)
	writes := f.store.CallCount("SetProjectTotal")

	updated, err := f.svc.UpdateTaskStatus(context.Background(), tsk.ID, task.DoneStatus)
	require.NoError(t, err)

	assert.Equal(t, task.DoneStatus, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, fixedNow, *updated.CompletedAt)
	assert.Equal(t, 3.0, updated.Emissions())
	assert.Equal(t, writes, f.store.CallCount("SetProjectTotal"))
}

func TestRecalculateProject_RepairsDrift(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Technical, 1.5)
	f.createTask(t, f.projectA.ID, co2.Technical, 2.3)

	overwriteTotal(t, f.store, f.projectA.ID, 99)

	_, err := f.svc.VerifyProject(context.Background(), f.projectA.ID)
	require.ErrorIs(t, err, ErrInconsistentTotal)

	refreshed, result, err := f.svc.RecalculateProject(context.Background(), f.projectA.ID)
	require.NoError(t, err)

	assert.True(t, result.Drifted())
	assert.Equal(t, 99.0, result.Previous)
	assert.Equal(t, 3.8, result.Total)
	assert.Equal(t, 2, result.TaskCount)
	assert.Equal(t, 3.8, refreshed.TotalEmissions())

	result, err = f.svc.VerifyProject(context.Background(), f.projectA.ID)
	require.NoError(t, err)
	assert.False(t, result.Drifted())
}

func TestRecalculateProject_Idempotent(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Light, 11.11)
	f.createTask(t, f.projectA.ID, co2.Light, 22.22)
	f.createTask(t, f.projectA.ID, co2.Light, 33.33)

	for i := 0; i < 3; i++ {
		_, result, err := f.svc.RecalculateProject(context.Background(), f.projectA.ID)
		require.NoError(t, err)
		assert.Equal(t, 6.66, result.Total)
		assert.False(t, result.Drifted())
	}
}

func TestRecalculateProject_EmptyProject(t *testing.T) {
	f := setupService(t)

	_, result, err := f.svc.RecalculateProject(context.Background(), f.projectB.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Total)
	assert.Equal(t, 0, result.TaskCount)
}

func TestRecalculateProject_NotFound(t *testing.T) {
	f := setupService(t)

	_, _, err := f.svc.RecalculateProject(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecalculateAll(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Intensive, 1)
	f.createTask(t, f.projectB.ID, co2.Technical, 2)
	overwriteTotal(t, f.store, f.projectB.ID, 0)

	result, err := f.svc.RecalculateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Projects)
	require.Len(t, result.Repaired, 1)
	assert.Equal(t, f.projectB.ID, result.Repaired[0].ProjectID)
	assert.Empty(t, result.Failed)
	f.assertConsistent(t, f.projectA.ID)
	f.assertConsistent(t, f.projectB.ID)
}

func TestRecalculateAll_CollectsFailures(t *testing.T) {
	f := setupService(t)
	f.createTask(t, f.projectA.ID, co2.Intensive, 1)

	f.store.FailOn("ListTaskEmissions", errors.New("read timeout"))
	result, err := f.svc.RecalculateAll(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAggregationIncomplete)
	assert.Len(t, result.Failed, 2)
}

func TestNotifier_OnlyOnCrossingIntoHigh(t *testing.T) {
	f := setupService(t)

	f.createTask(t, f.projectA.ID, co2.Technical, 3)
	assert.Empty(t, f.notifier.changes, "LOW to MEDIUM is not alerted")

	f.createTask(t, f.projectA.ID, co2.Technical, 2.5)
	require.Len(t, f.notifier.changes, 1)
	change := f.notifier.changes[0]
	assert.Equal(t, f.projectA.ID, change.ProjectID)
	assert.Equal(t, "Website", change.ProjectName)
	assert.Equal(t, co2.TierMedium, change.Previous)
	assert.Equal(t, co2.TierHigh, change.Current)
	assert.Equal(t, 5.5, change.Total)

	f.createTask(t, f.projectA.ID, co2.Intensive, 1)
	assert.Len(t, f.notifier.changes, 1, "staying in HIGH is not alerted again")
}

func TestNotifier_FailureDoesNotFailMutation(t *testing.T) {
	f := setupService(t)
	f.notifier.err = errors.New("redis down")

	created := f.createTask(t, f.projectA.ID, co2.Intensive, 4)

	assert.Equal(t, 14.0, created.Emissions())
	assert.Equal(t, 14.0, f.total(t, f.projectA.ID))
}

func TestConcurrentMutationsKeepTotalsConsistent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			projectID := f.projectA.ID
			if w%2 == 1 {
				projectID = f.projectB.ID
			}
			for i := 0; i < perWorker; i++ {
				created, err := f.svc.CreateTask(ctx, task.NewParams{
					Title:          "load",
					Category:       co2.Technical,
					AssigneeID:     f.owner.ID,
					ProjectID:      projectID,
					EstimatedHours: 0.25,
				})
				if err != nil {
					errs <- err
					continue
				}
				if i%3 == 0 {
					errs <- f.svc.DeleteTask(ctx, created.ID)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	f.assertConsistent(t, f.projectA.ID)
	f.assertConsistent(t, f.projectB.ID)

	// 4 workers per project, 10 creates and 4 deletes each.
	assert.Equal(t, 6.0, f.total(t, f.projectA.ID))
	assert.Equal(t, 6.0, f.total(t, f.projectB.ID))
}

// overwriteTotal writes a project total straight through the store, bypassing
// the accounting service, to leave the project drifted.
func overwriteTotal(t *testing.T, store *repository.MemoryStore, projectID string, total float64) {
	t.Helper()

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.SetProjectTotal(ctx, projectID, total, time.Now())
	}))
}

func failureCount(t *testing.T, trigger string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, metrics.RecalculationFailures.WithLabelValues(trigger).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecalculationFailures_OnlyAfterRefreshStarted(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	tsk := f.createTask(t, f.projectA.ID, co2.Technical, 1)

	creates, updates := failureCount(t, TriggerCreate), failureCount(t, TriggerUpdate)

	_, err := f.svc.CreateTask(ctx, task.NewParams{
		Title: "orphan", Category: co2.Light, AssigneeID: f.owner.ID, ProjectID: "missing", EstimatedHours: 1,
	})
	require.Error(t, err)
	_, err = f.svc.UpdateTask(ctx, "missing", task.Patch{})
	require.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, creates, failureCount(t, TriggerCreate))
	assert.Equal(t, updates, failureCount(t, TriggerUpdate))

	f.store.FailOn("ListTaskEmissions", errors.New("connection reset"))
	hours := 3.0
	_, err = f.svc.UpdateTask(ctx, tsk.ID, task.Patch{EstimatedHours: &hours})
	require.ErrorIs(t, err, ErrAggregationIncomplete)
	f.store.FailOn("ListTaskEmissions", nil)

	assert.Equal(t, updates+1, failureCount(t, TriggerUpdate))
}
