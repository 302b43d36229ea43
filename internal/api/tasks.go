package api

import (
	"net/http"

	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
)

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tasks, total, err := a.store.ListTasks(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"tasks":      tasks,
		"pagination": models.NewPagination(filter.Page, total),
	})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := a.store.GetTask(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"task": t})
}

// expanded reloads t with its assignee and project summaries. The mutation
// already committed, so a failed reload falls back to the bare task.
func (a *API) expanded(r *http.Request, t *task.Task) *task.Task {
	full, err := a.store.GetTask(r.Context(), t.ID)
	if err != nil {
		return t
	}

	return full
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := a.svc.CreateTask(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusCreated, map[string]any{"task": a.expanded(r, t)}, "task created")
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateTaskRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := a.svc.UpdateTask(r.Context(), id, patch)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, map[string]any{"task": a.expanded(r, t)}, "task updated")
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := a.svc.DeleteTask(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, nil, "task deleted")
}

func (a *API) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := a.svc.UpdateTaskStatus(r.Context(), id, req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, map[string]any{"task": a.expanded(r, t)}, "task status updated")
}
