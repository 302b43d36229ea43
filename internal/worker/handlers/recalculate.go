// Package handlers provides job handlers for the worker.
// Each handler implements the business logic for a specific job type
// and can be registered with the worker to process jobs from the queue.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/rs/zerolog/log"
)

type Recalculator interface {
	RecalculateProject(ctx context.Context, projectID string) (*project.Project, accounting.Recalculation, error)
	RecalculateAll(ctx context.Context) (accounting.SweepResult, error)
}

type RecalculateHandler struct {
	svc Recalculator
}

func NewRecalculateHandler(svc Recalculator) *RecalculateHandler {
	return &RecalculateHandler{svc: svc}
}

// Handle repairs the projects listed in the "project_ids" payload field, or
// every project when the field is absent. Projects deleted since the job was
// enqueued are skipped.
func (h *RecalculateHandler) Handle(ctx context.Context, j *job.Job) error {
	ids, err := projectIDs(j.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if len(ids) == 0 {
		result, err := h.svc.RecalculateAll(ctx)
		log.Info().
			Str("job_id", j.ID).
			Int("projects", result.Projects).
			Int("repaired", len(result.Repaired)).
			Int("failed", len(result.Failed)).
			Msg("repair sweep finished")

		return err
	}

	var errs []error
	for _, id := range ids {
		_, rec, err := h.svc.RecalculateProject(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Warn().Str("job_id", j.ID).Str("project_id", id).Msg("project vanished before recalculation")
		case err != nil:
			errs = append(errs, err)
		case rec.Drifted():
			log.Info().Str("job_id", j.ID).Str("project_id", id).Float64("total_co2", rec.Total).Msg("project total repaired")
		}
	}

	return errors.Join(errs...)
}

func projectIDs(payload map[string]any) ([]string, error) {
	raw, ok := payload["project_ids"]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id, ok := item.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("project_ids must contain non-empty strings, got %v", item)
			}
			ids = append(ids, id)
		}

		return ids, nil
	default:
		return nil, fmt.Errorf("project_ids must be a list, got %T", raw)
	}
}
