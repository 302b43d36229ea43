package main

import (
	"context"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/metrics"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/rs/zerolog/log"
)

const collectInterval = 10 * time.Second

type projectLister interface {
	ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*project.Project, int, error)
}

func startMetricsCollector(ctx context.Context, q *queue.Queue, projects projectLister) {
	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	for {
		updateQueueMetrics(ctx, q)
		updateTierMetrics(ctx, projects)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateQueueMetrics(ctx context.Context, q *queue.Queue) {
	if _, _, err := q.Depth(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to read queue depth for metrics")
	}
}

// updateTierMetrics counts projects per emission tier, walking every page.
func updateTierMetrics(ctx context.Context, projects projectLister) {
	counts := map[string]int{
		string(co2.TierLow):    0,
		string(co2.TierMedium): 0,
		string(co2.TierHigh):   0,
	}

	filter := models.ProjectFilter{Page: models.Page{Page: 1, Limit: models.MaxLimit}}
	for {
		page, total, err := projects.ListProjects(ctx, filter)
		if err != nil {
			log.Warn().Err(err).Msg("failed to list projects for metrics")
			return
		}
		for _, p := range page {
			counts[string(p.Tier())]++
		}
		if len(page) == 0 || filter.Page.Page*filter.Limit >= total {
			break
		}
		filter.Page.Page++
	}

	metrics.UpdateProjectTiers(counts)
}
