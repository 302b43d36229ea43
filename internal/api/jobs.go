package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/queue"
)

func (a *API) requireQueue(w http.ResponseWriter) bool {
	if a.queue == nil {
		httputil.WriteJSONError(w, "job queue not configured", http.StatusServiceUnavailable)
		return false
	}

	return true
}

// enqueueRecalculation schedules a repair of the listed projects, or of every
// project when the body is empty.
func (a *API) enqueueRecalculation(w http.ResponseWriter, r *http.Request) {
	if !a.requireQueue(w) {
		return
	}

	var req recalculationJobRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	if err := httputil.Validate(req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	payload := map[string]any{}
	if len(req.ProjectIDs) > 0 {
		payload["project_ids"] = req.ProjectIDs
	}

	a.enqueue(w, r, job.NewJob(job.TypeRecalculate, payload, job.MediumPriority))
}

func (a *API) enqueueReport(w http.ResponseWriter, r *http.Request) {
	if !a.requireQueue(w) {
		return
	}

	var req reportJobRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := req.payload()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a.enqueue(w, r, job.NewJob(job.TypeReport, payload, job.LowPriority))
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request, j *job.Job) {
	if err := a.queue.Enqueue(r.Context(), j); err != nil {
		httputil.WriteJSONError(w, "failed to enqueue job", http.StatusServiceUnavailable)
		return
	}

	httputil.WriteMessage(w, http.StatusAccepted, map[string]any{"job": j}, "job enqueued")
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	if !a.requireQueue(w) {
		return
	}

	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	j, err := a.queue.GetJob(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		httputil.WriteJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"job": j})
}

type deadLetterSummary struct {
	Count  int        `json:"count"`
	Oldest *time.Time `json:"oldest,omitempty"`
}

func (a *API) listDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	if !a.requireQueue(w) {
		return
	}

	jobs, err := a.queue.GetDeadLetterJobs(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summary := deadLetterSummary{Count: len(jobs)}
	for _, j := range jobs {
		if j.MovedToDLQ != nil && (summary.Oldest == nil || j.MovedToDLQ.Before(*summary.Oldest)) {
			summary.Oldest = j.MovedToDLQ
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "summary": summary})
}
