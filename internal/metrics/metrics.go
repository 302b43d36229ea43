// Package metrics provides Prometheus metrics for the EcoTask API, the
// emission accounting and the background job queue.
package metrics

import (
	"time"

	"github.com/nadmax/ecotask/internal/job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_tasks_created_total",
			Help: "Total number of tasks created",
		},
		[]string{"type"},
	)
	TaskEmissions = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecotask_task_co2_kg",
			Help:    "Emissions of created tasks in kg CO2",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 25, 50, 100, 500, 1000, 3500},
		},
		[]string{"type"},
	)
	TaskStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_task_status_changes_total",
			Help: "Total number of task status changes by target status",
		},
		[]string{"status"},
	)
	Recalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_project_recalculations_total",
			Help: "Total number of committed project total recalculations",
		},
		[]string{"trigger"},
	)
	RecalculationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_project_recalculation_failures_total",
			Help: "Total number of rolled back task mutations",
		},
		[]string{"trigger"},
	)
	ProjectTotals = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ecotask_project_total_co2_kg",
			Help:    "Project totals observed after each recalculation",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	DriftRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecotask_project_drift_repaired_total",
			Help: "Total number of project totals found inconsistent and rewritten",
		},
	)
	ProjectsByTier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecotask_projects_by_tier",
			Help: "Current number of projects per emission tier",
		},
		[]string{"tier"},
	)
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_jobs_enqueued_total",
			Help: "Total number of background jobs enqueued",
		},
		[]string{"type", "priority"},
	)
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_jobs_completed_total",
			Help: "Total number of background jobs completed successfully",
		},
		[]string{"type"},
	)
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_jobs_failed_total",
			Help: "Total number of background job attempts that failed",
		},
		[]string{"type"},
	)
	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_jobs_retried_total",
			Help: "Total number of background job retries",
		},
		[]string{"type"},
	)
	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		},
		[]string{"type"},
	)
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecotask_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "status"},
	)
	JobWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecotask_job_wait_time_seconds",
			Help:    "Time jobs spend waiting in queue before execution",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"type", "priority"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecotask_queue_depth",
			Help: "Current depth of the job queue",
		},
	)
	DeadLetterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecotask_dead_letter_queue_depth",
			Help: "Current depth of the dead letter queue",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecotask_workers_active",
			Help: "Number of currently active workers",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecotask_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecotask_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskCreated(category string, emissions float64) {
	TasksCreated.WithLabelValues(category).Inc()
	TaskEmissions.WithLabelValues(category).Observe(emissions)
}

func RecordTaskStatusChange(status string) {
	TaskStatusChanges.WithLabelValues(status).Inc()
}

func RecordRecalculation(trigger string, total float64) {
	Recalculations.WithLabelValues(trigger).Inc()
	ProjectTotals.Observe(total)
}

func RecordRecalculationFailure(trigger string) {
	RecalculationFailures.WithLabelValues(trigger).Inc()
}

func RecordDriftRepaired() {
	DriftRepaired.Inc()
}

func UpdateProjectTiers(counts map[string]int) {
	ProjectsByTier.Reset()
	for tier, count := range counts {
		ProjectsByTier.WithLabelValues(tier).Set(float64(count))
	}
}

func RecordJobEnqueued(jobType string, priority job.JobPriority) {
	JobsEnqueued.WithLabelValues(jobType, priority.String()).Inc()
}

func RecordJobCompleted(jobType string, duration time.Duration) {
	JobsCompleted.WithLabelValues(jobType).Inc()
	JobDuration.WithLabelValues(jobType, "completed").Observe(duration.Seconds())
}

func RecordJobFailed(jobType string, duration time.Duration) {
	JobsFailed.WithLabelValues(jobType).Inc()
	JobDuration.WithLabelValues(jobType, "failed").Observe(duration.Seconds())
}

func RecordJobRetried(jobType string) {
	JobsRetried.WithLabelValues(jobType).Inc()
}

func RecordJobDeadLettered(jobType string) {
	JobsDeadLettered.WithLabelValues(jobType).Inc()
}

func RecordJobWaitTime(jobType string, priority job.JobPriority, waitTime time.Duration) {
	JobWaitTime.WithLabelValues(jobType, priority.String()).Observe(waitTime.Seconds())
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateDeadLetterQueueDepth(depth int) {
	DeadLetterQueueDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
