package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
)

// MemoryStore is an in-process Store. Transactions are serialized by a single
// mutex and work on a copy of the state that replaces the live state on commit.
// Errors registered with FailOn are returned by the named operation, which
// makes it the test double for rollback scenarios.
type MemoryStore struct {
	mu     sync.Mutex
	state  memState
	errors map[string]error
	calls  map[string]int
}

type memState struct {
	users    map[string]*user.User
	projects map[string]*project.Project
	tasks    map[string]*task.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			users:    make(map[string]*user.User),
			projects: make(map[string]*project.Project),
			tasks:    make(map[string]*task.Task),
		},
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// FailOn makes every later call to op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

func (m *MemoryStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[op]
}

// called with mu held
func (m *MemoryStore) fail(op string) error {
	m.calls[op]++
	if err, ok := m.errors[op]; ok {
		return err
	}

	return nil
}

func (s memState) clone() memState {
	out := memState{
		users:    make(map[string]*user.User, len(s.users)),
		projects: make(map[string]*project.Project, len(s.projects)),
		tasks:    make(map[string]*task.Task, len(s.tasks)),
	}
	for id, u := range s.users {
		c := *u
		out.users[id] = &c
	}
	for id, p := range s.projects {
		out.projects[id] = copyProject(p)
	}
	for id, t := range s.tasks {
		out.tasks[id] = copyTask(t)
	}

	return out
}

func copyProject(p *project.Project) *project.Project {
	c := *p
	c.MemberIDs = append([]string{}, p.MemberIDs...)
	c.Owner = nil
	c.Members = nil
	c.Tasks = nil
	c.TaskCount = 0
	return &c
}

func copyTask(t *task.Task) *task.Task {
	c := *t
	if t.ActualHours != nil {
		h := *t.ActualHours
		c.ActualHours = &h
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.Assignee = nil
	c.Project = nil
	return &c
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("Begin"); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{store: m, state: &work}); err != nil {
		return err
	}

	if err := m.fail("Commit"); err != nil {
		return err
	}
	m.state = work

	return nil
}

type memTx struct {
	store *MemoryStore
	state *memState
}

func (tx *memTx) LockProject(_ context.Context, projectID string) (*project.Project, error) {
	if err := tx.store.fail("LockProject"); err != nil {
		return nil, err
	}

	p, ok := tx.state.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	return copyProject(p), nil
}

func (tx *memTx) GetTaskForUpdate(_ context.Context, taskID string) (*task.Task, error) {
	if err := tx.store.fail("GetTaskForUpdate"); err != nil {
		return nil, err
	}

	t, ok := tx.state.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	return copyTask(t), nil
}

func (tx *memTx) checkTaskRefs(t *task.Task) error {
	if _, ok := tx.state.projects[t.ProjectID]; !ok {
		return &ReferenceError{Field: "projectId", ID: t.ProjectID}
	}
	if _, ok := tx.state.users[t.AssigneeID]; !ok {
		return &ReferenceError{Field: "assigneeId", ID: t.AssigneeID}
	}

	return nil
}

func (tx *memTx) InsertTask(_ context.Context, t *task.Task) error {
	if err := tx.store.fail("InsertTask"); err != nil {
		return err
	}
	if _, exists := tx.state.tasks[t.ID]; exists {
		return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
	}
	if err := tx.checkTaskRefs(t); err != nil {
		return err
	}

	tx.state.tasks[t.ID] = copyTask(t)
	return nil
}

func (tx *memTx) UpdateTask(_ context.Context, t *task.Task) error {
	if err := tx.store.fail("UpdateTask"); err != nil {
		return err
	}
	if _, exists := tx.state.tasks[t.ID]; !exists {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	if err := tx.checkTaskRefs(t); err != nil {
		return err
	}

	tx.state.tasks[t.ID] = copyTask(t)
	return nil
}

func (tx *memTx) DeleteTask(_ context.Context, taskID string) error {
	if err := tx.store.fail("DeleteTask"); err != nil {
		return err
	}
	if _, exists := tx.state.tasks[taskID]; !exists {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	delete(tx.state.tasks, taskID)
	return nil
}

func (tx *memTx) ListTaskEmissions(_ context.Context, projectID string) ([]float64, error) {
	if err := tx.store.fail("ListTaskEmissions"); err != nil {
		return nil, err
	}

	emissions := []float64{}
	for _, t := range tx.state.tasks {
		if t.ProjectID == projectID {
			emissions = append(emissions, t.Emissions())
		}
	}

	return emissions, nil
}

func (tx *memTx) SetProjectTotal(_ context.Context, projectID string, total float64, at time.Time) error {
	if err := tx.store.fail("SetProjectTotal"); err != nil {
		return err
	}

	p, ok := tx.state.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	project.Rehydrate(p, total)
	p.UpdatedAt = at

	return nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("CreateUser"); err != nil {
		return err
	}
	for _, existing := range m.state.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
		}
	}

	c := *u
	m.state.users[u.ID] = &c
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}

	u, ok := m.state.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	c := *u
	return &c, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, page models.Page) ([]*user.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("ListUsers"); err != nil {
		return nil, 0, err
	}

	users := make([]*user.User, 0, len(m.state.users))
	for _, u := range m.state.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})

	return paginate(users, page), len(users), nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("UpdateUser"); err != nil {
		return err
	}
	if _, ok := m.state.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	for id, existing := range m.state.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
		}
	}

	c := *u
	m.state.users[u.ID] = &c
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("DeleteUser"); err != nil {
		return err
	}
	if _, ok := m.state.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	for _, p := range m.state.projects {
		if p.OwnerID == userID {
			return fmt.Errorf("user %s owns project %s: %w", userID, p.ID, ErrConflict)
		}
	}
	for _, t := range m.state.tasks {
		if t.AssigneeID == userID {
			return fmt.Errorf("user %s is assigned task %s: %w", userID, t.ID, ErrConflict)
		}
	}

	delete(m.state.users, userID)
	for _, p := range m.state.projects {
		p.MemberIDs = removeString(p.MemberIDs, userID)
	}

	return nil
}

func (m *MemoryStore) checkProjectRefs(p *project.Project) error {
	if _, ok := m.state.users[p.OwnerID]; !ok {
		return &ReferenceError{Field: "ownerId", ID: p.OwnerID}
	}
	for _, id := range p.MemberIDs {
		if _, ok := m.state.users[id]; !ok {
			return &ReferenceError{Field: "memberIds", ID: id}
		}
	}

	return nil
}

func (m *MemoryStore) CreateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("CreateProject"); err != nil {
		return err
	}
	if err := m.checkProjectRefs(p); err != nil {
		return err
	}

	c := copyProject(p)
	project.Rehydrate(c, 0)
	m.state.projects[p.ID] = c
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, projectID string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("GetProject"); err != nil {
		return nil, err
	}

	p, ok := m.state.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	out := m.expandProject(p)
	out.Tasks = []*task.Task{}
	for _, t := range m.state.tasks {
		if t.ProjectID == projectID {
			out.Tasks = append(out.Tasks, m.expandTask(t))
		}
	}
	sortTasks(out.Tasks)

	return out, nil
}

func (m *MemoryStore) expandProject(p *project.Project) *project.Project {
	out := copyProject(p)
	if owner, ok := m.state.users[p.OwnerID]; ok {
		s := owner.Summary()
		out.Owner = &s
	}
	out.Members = []user.Summary{}
	for _, id := range p.MemberIDs {
		if u, ok := m.state.users[id]; ok {
			out.Members = append(out.Members, u.Summary())
		}
	}
	for _, t := range m.state.tasks {
		if t.ProjectID == p.ID {
			out.TaskCount++
		}
	}

	return out
}

func (m *MemoryStore) ListProjects(_ context.Context, filter models.ProjectFilter) ([]*project.Project, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("ListProjects"); err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(filter.Search)
	projects := []*project.Project{}
	for _, p := range m.state.projects {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		projects = append(projects, m.expandProject(p))
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID < projects[j].ID
		}
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})

	return paginate(projects, filter.Page), len(projects), nil
}

func (m *MemoryStore) UpdateProject(_ context.Context, p *project.Project, replaceMembers bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("UpdateProject"); err != nil {
		return err
	}

	stored, ok := m.state.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	if err := m.checkProjectRefs(p); err != nil {
		return err
	}

	stored.Name = p.Name
	stored.Description = p.Description
	stored.Color = p.Color
	stored.OwnerID = p.OwnerID
	stored.UpdatedAt = p.UpdatedAt
	if replaceMembers {
		stored.MemberIDs = append([]string{}, p.MemberIDs...)
	}

	return nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("DeleteProject"); err != nil {
		return err
	}
	if _, ok := m.state.projects[projectID]; !ok {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	delete(m.state.projects, projectID)
	for id, t := range m.state.tasks {
		if t.ProjectID == projectID {
			delete(m.state.tasks, id)
		}
	}

	return nil
}

func (m *MemoryStore) ListProjectIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("ListProjectIDs"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(m.state.projects))
	for id := range m.state.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

func (m *MemoryStore) expandTask(t *task.Task) *task.Task {
	out := copyTask(t)
	if u, ok := m.state.users[t.AssigneeID]; ok {
		s := u.Summary()
		out.Assignee = &s
	}
	if p, ok := m.state.projects[t.ProjectID]; ok {
		out.Project = &task.ProjectSummary{ID: p.ID, Name: p.Name, Color: p.Color}
	}

	return out
}

func (m *MemoryStore) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("GetTask"); err != nil {
		return nil, err
	}

	t, ok := m.state.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	return m.expandTask(t), nil
}

func (m *MemoryStore) ListTasks(_ context.Context, filter models.TaskFilter) ([]*task.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("ListTasks"); err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(filter.Search)
	tasks := []*task.Task{}
	for _, t := range m.state.tasks {
		switch {
		case filter.Status != "" && t.Status != filter.Status,
			filter.Priority != "" && t.Priority != filter.Priority,
			filter.Category != "" && t.Category != filter.Category,
			filter.ProjectID != "" && t.ProjectID != filter.ProjectID,
			filter.AssigneeID != "" && t.AssigneeID != filter.AssigneeID:
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		tasks = append(tasks, m.expandTask(t))
	}
	sortTasks(tasks)

	return paginate(tasks, filter.Page), len(tasks), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func sortTasks(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func paginate[T any](items []T, page models.Page) []T {
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}

	end := offset + page.Normalize().Limit
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end]
}

func removeString(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}

	return out
}
