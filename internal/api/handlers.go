// Package api exposes users, projects, tasks, statistics and background jobs
// over a JSON REST interface. Every task mutation goes through the emission
// accounting service so project totals stay consistent.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/dashboard"
	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const (
	defaultAllowedOrigin = "http://localhost:5173"
	maxBodyBytes         = 1 << 20
)

type API struct {
	store         repository.Store
	svc           *accounting.Service
	queue         *queue.Queue
	stats         repository.StatsRepository
	mux           *http.ServeMux
	handler       http.Handler
	allowedOrigin string
	startedAt     time.Time
	now           func() time.Time
}

type Option func(*API)

// WithQueue enables the job endpoints.
func WithQueue(q *queue.Queue) Option {
	return func(a *API) { a.queue = q }
}

// WithStats enables the statistics endpoints.
func WithStats(stats repository.StatsRepository) Option {
	return func(a *API) { a.stats = stats }
}

func WithAllowedOrigin(origin string) Option {
	return func(a *API) {
		if origin != "" {
			a.allowedOrigin = origin
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

func NewAPI(store repository.Store, svc *accounting.Service, opts ...Option) *API {
	api := &API{
		store:         store,
		svc:           svc,
		mux:           http.NewServeMux(),
		allowedOrigin: defaultAllowedOrigin,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(api)
	}
	api.startedAt = api.now()

	api.setupRoutes()
	api.handler = cors.New(cors.Options{
		AllowedOrigins:   []string{api.allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(api.mux)

	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("GET /health", a.health)

	a.mux.HandleFunc("GET /api/users", a.listUsers)
	a.mux.HandleFunc("POST /api/users", a.createUser)
	a.mux.HandleFunc("GET /api/users/{id}", a.getUser)
	a.mux.HandleFunc("PUT /api/users/{id}", a.updateUser)
	a.mux.HandleFunc("DELETE /api/users/{id}", a.deleteUser)

	a.mux.HandleFunc("GET /api/projects", a.listProjects)
	a.mux.HandleFunc("POST /api/projects", a.createProject)
	a.mux.HandleFunc("GET /api/projects/{id}", a.getProject)
	a.mux.HandleFunc("PUT /api/projects/{id}", a.updateProject)
	a.mux.HandleFunc("DELETE /api/projects/{id}", a.deleteProject)
	a.mux.HandleFunc("PUT /api/projects/{id}/recalculate-co2", a.recalculateProject)
	a.mux.HandleFunc("GET /api/projects/{id}/verify-co2", a.verifyProject)

	a.mux.HandleFunc("GET /api/tasks", a.listTasks)
	a.mux.HandleFunc("POST /api/tasks", a.createTask)
	a.mux.HandleFunc("GET /api/tasks/{id}", a.getTask)
	a.mux.HandleFunc("PUT /api/tasks/{id}", a.updateTask)
	a.mux.HandleFunc("DELETE /api/tasks/{id}", a.deleteTask)
	a.mux.HandleFunc("PUT /api/tasks/{id}/status", a.updateTaskStatus)

	if a.stats != nil {
		dash := dashboard.NewDashboard(a.stats, a.store, dashboard.WithClock(a.now))
		a.mux.HandleFunc("GET /api/stats/dashboard", dash.GetDashboard)
		a.mux.HandleFunc("GET /api/stats/co2-trends", dash.GetCO2Trends)
		a.mux.HandleFunc("GET /api/stats/project/{id}", dash.GetProjectStats)
		a.mux.HandleFunc("GET /api/stats/user/{id}", dash.GetUserStats)
		a.mux.HandleFunc("GET /api/users/{id}/stats", dash.GetUserStats)
	}

	a.mux.HandleFunc("POST /api/jobs/recalculate", a.enqueueRecalculation)
	a.mux.HandleFunc("POST /api/jobs/reports", a.enqueueReport)
	a.mux.HandleFunc("GET /api/jobs/dlq", a.listDeadLetterJobs)
	a.mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	now := a.now()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "OK",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(a.startedAt).Seconds(),
	})
}

// decodeBody reads a JSON request body into dst. Unknown fields are rejected.
func decodeBody(r *http.Request, dst any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close request body")
		}
	}()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var v httputil.ValidationError
		if errors.Is(err, io.EOF) {
			v.Add("body", "request body is required")
		} else {
			v.Add("body", fmt.Sprintf("invalid JSON: %v", err))
		}
		return &v
	}

	return nil
}

// pathID returns the {id} path value once it is a valid UUID.
func pathID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if err := httputil.ValidateVar("id", id, "required,uuid"); err != nil {
		return "", err
	}

	return id, nil
}
