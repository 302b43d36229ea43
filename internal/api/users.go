package api

import (
	"net/http"

	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/user"
)

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	users, total, err := a.store.ListUsers(r.Context(), page)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"users":      users,
		"pagination": models.NewPagination(page, total),
	})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := a.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u := user.New(req.Name, req.Email, req.Role, a.now())
	if err := a.store.CreateUser(r.Context(), u); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusCreated, map[string]any{"user": u}, "user created")
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateUserRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := a.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	u.Apply(patch, a.now())
	if err := a.store.UpdateUser(r.Context(), u); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, map[string]any{"user": u}, "user updated")
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := a.store.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, nil, "user deleted")
}
