// Package worker provides the background job processor that consumes and executes jobs from the queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/metrics"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = time.Second
	defaultRetryBackoff = 10 * time.Second
)

type JobHandler func(ctx context.Context, j *job.Job) error

type Worker struct {
	id           string
	queue        *queue.Queue
	handlers     map[string]JobHandler
	stop         chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
	retryBackoff time.Duration
}

var activeWorkers atomic.Int64

func NewWorker(id string, q *queue.Queue) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		handlers:     make(map[string]JobHandler),
		stop:         make(chan struct{}),
		pollInterval: defaultPollInterval,
		retryBackoff: defaultRetryBackoff,
	}
}

func (w *Worker) RegisterHandler(jobType string, handler JobHandler) {
	w.handlers[jobType] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// SetRetryBackoff sets the base delay; the n-th retry waits n times this long.
func (w *Worker) SetRetryBackoff(d time.Duration) {
	w.retryBackoff = d
}

// Start polls the queue until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	metrics.UpdateActiveWorkers(int(activeWorkers.Add(1)))
	defer func() { metrics.UpdateActiveWorkers(int(activeWorkers.Add(-1))) }()

	log.Info().Str("worker_id", w.id).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", w.id).Msg("worker stopped")
			return
		case <-w.stop:
			log.Info().Str("worker_id", w.id).Msg("worker stopped")
			return
		default:
		}

		j, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Error().Err(err).Str("worker_id", w.id).Msg("dequeue failed")
		}
		if err != nil || j == nil {
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
			case <-w.stop:
			}
			continue
		}

		w.processJob(ctx, j)
	}
}

func (w *Worker) processJob(ctx context.Context, j *job.Job) {
	logger := log.With().Str("worker_id", w.id).Str("job_id", j.ID).Str("type", j.Type).Logger()
	logger.Info().Msg("processing job")

	startedAt := time.Now()
	metrics.RecordJobWaitTime(j.Type, j.Priority, startedAt.Sub(j.ScheduledAt))

	j.Status = job.RunningStatus
	j.StartedAt = &startedAt
	if err := w.queue.UpdateJob(ctx, j); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job running")
	}

	handler, exists := w.handlers[j.Type]
	if !exists {
		j.Status = job.FailedStatus
		if err := w.queue.MoveToDeadLetter(ctx, j, fmt.Sprintf("no handler for job type: %s", j.Type)); err != nil {
			logger.Error().Err(err).Msg("failed to dead-letter job")
		}
		return
	}

	err := handler(ctx, j)
	completedAt := time.Now()
	duration := completedAt.Sub(startedAt)

	if err != nil {
		metrics.RecordJobFailed(j.Type, duration)
		j.RetryCount++
		j.Error = err.Error()

		if j.RetryCount < j.MaxRetries {
			j.Status = job.PendingStatus
			j.StartedAt = nil
			j.ScheduledAt = completedAt.Add(time.Duration(j.RetryCount) * w.retryBackoff)
			if err := w.queue.Enqueue(ctx, j); err != nil {
				logger.Error().Err(err).Msg("failed to re-enqueue job")
				return
			}
			metrics.RecordJobRetried(j.Type)
			logger.Warn().Err(err).Int("retry", j.RetryCount).Int("max_retries", j.MaxRetries).Msg("job failed, will retry")
			return
		}

		j.Status = job.FailedStatus
		j.CompletedAt = &completedAt
		if j.ShouldMoveToDeadLetter() {
			if err := w.queue.MoveToDeadLetter(ctx, j, err.Error()); err != nil {
				logger.Error().Err(err).Msg("failed to dead-letter job")
			}
		} else if err := w.queue.UpdateJob(ctx, j); err != nil {
			logger.Error().Err(err).Msg("failed to update failed job")
		}
		logger.Error().Err(err).Msg("job failed permanently")
		return
	}

	j.Status = job.CompletedStatus
	j.CompletedAt = &completedAt
	j.Error = ""
	if err := w.queue.UpdateJob(ctx, j); err != nil {
		logger.Error().Err(err).Msg("failed to update completed job")
	}
	metrics.RecordJobCompleted(j.Type, duration)
	logger.Info().Dur("duration", duration).Msg("job completed")
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
