package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
		Retryable bool `json:"retryable"`
	} `json:"error"`
}

type testEnv struct {
	api   *API
	store *repository.MemoryStore
	queue *queue.Queue
	mr    *miniredis.Miniredis
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := queue.NewQueue(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	clock := func() time.Time { return testNow }
	store := repository.NewMemoryStore()
	svc := accounting.NewService(store, co2.NewCalculator(co2.DefaultRateTable()),
		accounting.WithNotifier(q), accounting.WithClock(clock))

	return &testEnv{
		api:   NewAPI(store, svc, WithQueue(q), WithClock(clock)),
		store: store,
		queue: q,
		mr:    mr,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.api.ServeHTTP(w, req)

	var resp response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}

	return w, resp
}

func decodeData[T any](t *testing.T, resp response, key string) T {
	t.Helper()

	var wrapper map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &wrapper))
	raw, ok := wrapper[key]
	require.True(t, ok, "missing %q in response data", key)

	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (e *testEnv) seedUser(t *testing.T, name, email string) *user.User {
	t.Helper()

	u := user.New(name, email, user.MemberRole, testNow)
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) seedProject(t *testing.T, name string, owner *user.User) *project.Project {
	t.Helper()

	p := project.New(project.NewParams{Name: name, OwnerID: owner.ID, MemberIDs: []string{owner.ID}}, testNow)
	require.NoError(t, e.store.CreateProject(context.Background(), p))
	return p
}

func taskBody(projectID, assigneeID, category string, hours float64) map[string]any {
	return map[string]any{
		"title":          "Train model",
		"type":           category,
		"priority":       "HIGH",
		"assigneeId":     assigneeID,
		"projectId":      projectID,
		"estimatedHours": hours,
		"dueDate":        testNow.Add(72 * time.Hour).Format(time.RFC3339),
	}
}

func (e *testEnv) createTask(t *testing.T, projectID, assigneeID, category string, hours float64) task.Task {
	t.Helper()

	w, resp := e.do(t, http.MethodPost, "/api/tasks", taskBody(projectID, assigneeID, category, hours))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[task.Task](t, resp, "task")
}

func (e *testEnv) projectTotal(t *testing.T, projectID string) float64 {
	t.Helper()

	p, err := e.store.GetProject(context.Background(), projectID)
	require.NoError(t, err)
	return p.TotalEmissions()
}

func TestHealth(t *testing.T) {
	env := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, testNow.Format(time.RFC3339), body["timestamp"])
}

func TestCORS(t *testing.T) {
	env := setupTestAPI(t)

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
		req.Header.Set("Origin", defaultAllowedOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		w := httptest.NewRecorder()
		env.api.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, defaultAllowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("allowed origin request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", defaultAllowedOrigin)
		w := httptest.NewRecorder()
		env.api.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, defaultAllowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		env.api.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestUserCRUD(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, http.MethodPost, "/api/users", map[string]any{
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	created := decodeData[user.User](t, resp, "user")
	assert.Equal(t, user.MemberRole, created.Role)

	w, resp = env.do(t, http.MethodGet, "/api/users/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", decodeData[user.User](t, resp, "user").Email)

	w, resp = env.do(t, http.MethodPut, "/api/users/"+created.ID, map[string]any{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.AdminRole, decodeData[user.User](t, resp, "user").Role)

	w, resp = env.do(t, http.MethodGet, "/api/users?page=1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decodeData[[]user.User](t, resp, "users")
	assert.Len(t, users, 1)
	pagination := decodeData[map[string]int](t, resp, "pagination")
	assert.Equal(t, 1, pagination["total"])
	assert.Equal(t, 5, pagination["limit"])

	w, _ = env.do(t, http.MethodDelete, "/api/users/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/users/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}

func TestCreateUser_Validation(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, http.MethodPost, "/api/users", map[string]any{
		"name":  "A",
		"email": "not-an-email",
		"role":  "OWNER",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid data", resp.Error.Message)

	fields := make([]string, 0, len(resp.Error.Details))
	for _, d := range resp.Error.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"name", "email", "role"}, fields)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	env := setupTestAPI(t)
	env.seedUser(t, "Ada Lovelace", "ada@example.com")

	w, _ := env.do(t, http.MethodPost, "/api/users", map[string]any{
		"name":  "Ada Again",
		"email": "ada@example.com",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDecodeBody_Errors(t *testing.T) {
	env := setupTestAPI(t)

	t.Run("unknown field", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/api/users", map[string]any{
			"name":     "Ada Lovelace",
			"email":    "ada@example.com",
			"password": "secret",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "body", resp.Error.Details[0].Field)
	})

	t.Run("empty body", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/api/users", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "request body is required", resp.Error.Details[0].Message)
	})
}

func TestInvalidPathID(t *testing.T) {
	env := setupTestAPI(t)

	for _, target := range []string{"/api/users/42", "/api/projects/abc", "/api/tasks/xyz"} {
		w, resp := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "id", resp.Error.Details[0].Field)
	}
}

func TestProjectCRUD(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	member := env.seedUser(t, "Grace Hopper", "grace@example.com")

	w, resp := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":      "Website",
		"ownerId":   owner.ID,
		"memberIds": []string{owner.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeData[project.Project](t, resp, "project")
	assert.Equal(t, project.DefaultColor, created.Color)
	assert.Zero(t, created.TotalEmissions())
	assert.Equal(t, co2.TierLow, created.Tier())

	w, resp = env.do(t, http.MethodPut, "/api/projects/"+created.ID, map[string]any{
		"color":     "#10B981",
		"memberIds": []string{owner.ID, member.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeData[project.Project](t, resp, "project")
	assert.Equal(t, "#10B981", updated.Color)
	assert.ElementsMatch(t, []string{owner.ID, member.ID}, updated.MemberIDs)

	w, resp = env.do(t, http.MethodPut, "/api/projects/"+created.ID, map[string]any{"name": "Website v2"})
	require.Equal(t, http.StatusOK, w.Code)
	renamed := decodeData[project.Project](t, resp, "project")
	assert.Equal(t, "Website v2", renamed.Name)
	assert.Len(t, renamed.MemberIDs, 2)

	w, resp = env.do(t, http.MethodGet, "/api/projects?ownerId="+owner.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData[[]project.Project](t, resp, "projects"), 1)

	w, _ = env.do(t, http.MethodDelete, "/api/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProject_Validation(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":  "Website",
		"color": "blue",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	fields := make([]string, 0, len(resp.Error.Details))
	for _, d := range resp.Error.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"color", "ownerId"}, fields)
}

func TestUpdateProject_Validation(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)

	w, resp := env.do(t, http.MethodPut, "/api/projects/"+p.ID, map[string]any{
		"name":      "",
		"memberIds": []string{owner.ID, "nope"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	fields := make([]string, 0, len(resp.Error.Details))
	for _, d := range resp.Error.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"name", "memberIds[1]"}, fields)
}

func TestCreateProject_UnknownOwner(t *testing.T) {
	env := setupTestAPI(t)

	w, _ := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":    "Website",
		"ownerId": "6f1d2a8e-4b1c-4a7e-9d55-0c7d2f1e9a10",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTask_ComputesEmissions(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)

	created := env.createTask(t, p.ID, owner.ID, "TECHNICAL", 3)

	assert.Equal(t, 3.0, created.Emissions())
	assert.Equal(t, co2.TierMedium, created.Tier())
	assert.Equal(t, task.TodoStatus, created.Status)
	require.NotNil(t, created.Assignee)
	assert.Equal(t, owner.Name, created.Assignee.Name)
	require.NotNil(t, created.Project)
	assert.Equal(t, "Website", created.Project.Name)

	assert.Equal(t, 3.0, env.projectTotal(t, p.ID))
}

func TestCreateTask_Validation(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)

	tests := []struct {
		name  string
		edit  func(map[string]any)
		field string
	}{
		{"unknown category", func(b map[string]any) { b["type"] = "HEAVY" }, "type"},
		{"hours too low", func(b map[string]any) { b["estimatedHours"] = 0.05 }, "estimatedHours"},
		{"hours too high", func(b map[string]any) { b["estimatedHours"] = 1000.5 }, "estimatedHours"},
		{"missing hours", func(b map[string]any) { delete(b, "estimatedHours") }, "estimatedHours"},
		{"bad due date", func(b map[string]any) { b["dueDate"] = "next week" }, "dueDate"},
		{"bad project id", func(b map[string]any) { b["projectId"] = "p-1" }, "projectId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := taskBody(p.ID, owner.ID, "LIGHT", 1)
			tt.edit(body)

			w, resp := env.do(t, http.MethodPost, "/api/tasks", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, resp.Error)
			require.NotEmpty(t, resp.Error.Details)
			assert.Equal(t, tt.field, resp.Error.Details[0].Field)
		})
	}

	assert.Zero(t, env.projectTotal(t, p.ID))
}

func TestCreateTask_UnknownProject(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")

	p := env.seedProject(t, "Website", owner)
	const unknown = "6f1d2a8e-4b1c-4a7e-9d55-0c7d2f1e9a10"

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"unknown project", taskBody(unknown, owner.ID, "LIGHT", 1), "projectId"},
		{"unknown assignee", taskBody(p.ID, unknown, "LIGHT", 1), "assigneeId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPost, "/api/tasks", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			require.NotNil(t, resp.Error)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.field, resp.Error.Details[0].Field)
		})
	}

	moved := env.createTask(t, p.ID, owner.ID, "TECHNICAL", 1)
	w, resp := env.do(t, http.MethodPut, "/api/tasks/"+moved.ID, map[string]any{"projectId": unknown})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "projectId", resp.Error.Details[0].Field)
	assert.Equal(t, 1.0, env.projectTotal(t, p.ID))
}

func TestUpdateTask_RecomputesTotals(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)

	first := env.createTask(t, p.ID, owner.ID, "TECHNICAL", 2)
	env.createTask(t, p.ID, owner.ID, "LIGHT", 5)
	assert.Equal(t, 2.5, env.projectTotal(t, p.ID))

	w, resp := env.do(t, http.MethodPut, "/api/tasks/"+first.ID, map[string]any{"estimatedHours": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeData[task.Task](t, resp, "task")
	assert.Equal(t, 4.0, updated.Emissions())
	assert.Equal(t, 4.5, env.projectTotal(t, p.ID))

	w, resp = env.do(t, http.MethodPut, "/api/tasks/"+first.ID, map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decodeData[task.Task](t, resp, "task").Title)
	assert.Equal(t, 4.5, env.projectTotal(t, p.ID))
}

func TestUpdateTask_MoveBetweenProjects(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	from := env.seedProject(t, "Website", owner)
	to := env.seedProject(t, "Mobile app", owner)

	moved := env.createTask(t, from.ID, owner.ID, "TECHNICAL", 2)
	env.createTask(t, from.ID, owner.ID, "LIGHT", 1)

	w, resp := env.do(t, http.MethodPut, "/api/tasks/"+moved.ID, map[string]any{"projectId": to.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, to.ID, decodeData[task.Task](t, resp, "task").ProjectID)

	assert.Equal(t, 0.1, env.projectTotal(t, from.ID))
	assert.Equal(t, 2.0, env.projectTotal(t, to.ID))
}

func TestUpdateTaskStatus(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)
	created := env.createTask(t, p.ID, owner.ID, "TECHNICAL", 2)

	w, resp := env.do(t, http.MethodPut, "/api/tasks/"+created.ID+"/status", map[string]any{"status": "DONE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decodeData[task.Task](t, resp, "task")
	assert.Equal(t, task.DoneStatus, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(testNow))
	assert.Equal(t, 2.0, done.Emissions())
	assert.Equal(t, 2.0, env.projectTotal(t, p.ID))

	w, _ = env.do(t, http.MethodPut, "/api/tasks/"+created.ID+"/status", map[string]any{"status": "ARCHIVED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteTask_RefreshesTotal(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)

	first := env.createTask(t, p.ID, owner.ID, "TECHNICAL", 2)
	env.createTask(t, p.ID, owner.ID, "LIGHT", 3)

	w, _ := env.do(t, http.MethodDelete, "/api/tasks/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.3, env.projectTotal(t, p.ID), 1e-9)

	w, _ = env.do(t, http.MethodDelete, "/api/tasks/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTasks_Filters(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)
	env.createTask(t, p.ID, owner.ID, "TECHNICAL", 2)
	env.createTask(t, p.ID, owner.ID, "LIGHT", 1)

	w, resp := env.do(t, http.MethodGet, "/api/tasks?type=LIGHT&projectId="+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decodeData[[]task.Task](t, resp, "tasks")
	require.Len(t, tasks, 1)
	assert.Equal(t, co2.Light, tasks[0].Category)

	w, resp = env.do(t, http.MethodGet, "/api/tasks?status=DELETED", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "status", resp.Error.Details[0].Field)

	w, _ = env.do(t, http.MethodGet, "/api/tasks?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecalculateAndVerifyProject(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)
	env.createTask(t, p.ID, owner.ID, "TECHNICAL", 2)

	w, resp := env.do(t, http.MethodGet, "/api/projects/"+p.ID+"/verify-co2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decodeData[verification](t, resp, "verification")
	assert.True(t, v.Consistent)
	assert.Equal(t, 2.0, v.StoredCO2)

	overwriteTotal(t, env.store, p.ID, 42)

	w, resp = env.do(t, http.MethodGet, "/api/projects/"+p.ID+"/verify-co2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v = decodeData[verification](t, resp, "verification")
	assert.False(t, v.Consistent)
	assert.Equal(t, 42.0, v.StoredCO2)
	assert.Equal(t, 2.0, v.ComputedCO2)
	assert.Equal(t, 1, v.TaskCount)
	assert.Equal(t, 42.0, env.projectTotal(t, p.ID))

	w, resp = env.do(t, http.MethodPut, "/api/projects/"+p.ID+"/recalculate-co2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decodeData[accounting.Recalculation](t, resp, "recalculation")
	assert.Equal(t, 42.0, rec.Previous)
	assert.Equal(t, 2.0, rec.Total)
	assert.Equal(t, 2.0, env.projectTotal(t, p.ID))
}

func TestRecalculateProject_Unavailable(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Website", owner)
	env.store.FailOn("Begin", repository.ErrUnavailable)

	w, resp := env.do(t, http.MethodPut, "/api/projects/"+p.ID+"/recalculate-co2", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}

func TestTierRiseEnqueuesAlert(t *testing.T) {
	env := setupTestAPI(t)
	owner := env.seedUser(t, "Ada Lovelace", "ada@example.com")
	p := env.seedProject(t, "Render farm", owner)

	env.createTask(t, p.ID, owner.ID, "INTENSIVE", 2)

	j, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, job.TypeEmissionAlert, j.Type)
	assert.Equal(t, p.ID, j.Payload["project_id"])
	assert.Equal(t, string(co2.TierHigh), j.Payload["current_tier"])
	assert.Equal(t, 7.0, j.Payload["total_co2"])
}

func TestJobs(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, http.MethodPost, "/api/jobs/recalculate", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sweep := decodeData[job.Job](t, resp, "job")
	assert.Equal(t, job.TypeRecalculate, sweep.Type)
	assert.NotContains(t, sweep.Payload, "project_ids")

	w, resp = env.do(t, http.MethodGet, "/api/jobs/"+sweep.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, job.PendingStatus, decodeData[job.Job](t, resp, "job").Status)

	w, resp = env.do(t, http.MethodPost, "/api/jobs/reports", map[string]any{
		"groupBy": "category",
		"format":  "json",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	report := decodeData[job.Job](t, resp, "job")
	assert.Equal(t, job.TypeReport, report.Type)
	assert.Equal(t, job.LowPriority, report.Priority)
	assert.Equal(t, "category", report.Payload["group_by"])

	w, _ = env.do(t, http.MethodGet, "/api/jobs/6f1d2a8e-4b1c-4a7e-9d55-0c7d2f1e9a10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobs_Validation(t *testing.T) {
	env := setupTestAPI(t)

	w, _ := env.do(t, http.MethodPost, "/api/jobs/recalculate", map[string]any{"projectIds": []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/jobs/reports", map[string]any{
		"groupBy":    "weekday",
		"format":     "xlsx",
		"scheduleIn": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Len(t, resp.Error.Details, 3)
}

func TestDeadLetterJobs(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()

	j := job.NewJob(job.TypeReport, map[string]any{}, job.LowPriority)
	require.NoError(t, env.queue.Enqueue(ctx, j))
	require.NoError(t, env.queue.MoveToDeadLetter(ctx, j, "disk full"))

	w, resp := env.do(t, http.MethodGet, "/api/jobs/dlq", nil)
	require.Equal(t, http.StatusOK, w.Code)

	jobs := decodeData[[]job.Job](t, resp, "jobs")
	require.Len(t, jobs, 1)
	assert.Equal(t, j.ID, jobs[0].ID)

	summary := decodeData[deadLetterSummary](t, resp, "summary")
	assert.Equal(t, 1, summary.Count)
	assert.NotNil(t, summary.Oldest)
}

func TestJobs_WithoutQueue(t *testing.T) {
	store := repository.NewMemoryStore()
	api := NewAPI(store, accounting.NewService(store, co2.NewCalculator(co2.DefaultRateTable())))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/recalculate", nil)
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatsRoutesRequireStats(t *testing.T) {
	env := setupTestAPI(t)

	w := httptest.NewRecorder()
	env.api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/dashboard", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// overwriteTotal writes a project total straight through the store, bypassing
// the accounting service, to leave the project drifted.
func overwriteTotal(t *testing.T, store *repository.MemoryStore, projectID string, total float64) {
	t.Helper()

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.SetProjectTotal(ctx, projectID, total, time.Now())
	}))
}
