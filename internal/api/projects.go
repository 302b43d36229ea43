package api

import (
	"errors"
	"net/http"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository/models"
)

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProjectFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	projects, total, err := a.store.ListProjects(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"projects":   projects,
		"pagination": models.NewPagination(filter.Page, total),
	})
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"project": p})
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p := project.New(params, a.now())
	if err := a.store.CreateProject(r.Context(), p); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := a.store.GetProject(r.Context(), p.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusCreated, map[string]any{"project": created}, "project created")
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateProjectRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p.Apply(patch, a.now())
	if err := a.store.UpdateProject(r.Context(), p, patch.MemberIDs != nil); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, map[string]any{"project": updated}, "project updated")
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := a.store.DeleteProject(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, nil, "project deleted")
}

func (a *API) recalculateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, rec, err := a.svc.RecalculateProject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, map[string]any{
		"project":       p,
		"recalculation": rec,
	}, "project CO2 recalculated")
}

type verification struct {
	ProjectID   string   `json:"projectId"`
	StoredCO2   float64  `json:"storedCO2"`
	ComputedCO2 float64  `json:"computedCO2"`
	TaskCount   int      `json:"taskCount"`
	Consistent  bool     `json:"consistent"`
	Tier        co2.Tier `json:"co2Level"`
}

// verifyProject reports drift as a successful response with consistent=false.
func (a *API) verifyProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := a.svc.VerifyProject(r.Context(), id)
	if err != nil && !errors.Is(err, accounting.ErrInconsistentTotal) {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"verification": verification{
		ProjectID:   rec.ProjectID,
		StoredCO2:   co2.Round2(rec.Previous),
		ComputedCO2: rec.Total,
		TaskCount:   rec.TaskCount,
		Consistent:  err == nil,
		Tier:        co2.Classify(rec.Total),
	}})
}
