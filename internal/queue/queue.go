// Package queue is the Redis-backed job queue feeding the background worker.
// Pending jobs sit in a sorted set scored by schedule time and priority; job
// bodies live in a hash; jobs that exhausted their retries move to a dead
// letter set.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	jobsKey       = "ecotask:jobs"
	pendingKey    = "ecotask:job_queue"
	deadLetterKey = "ecotask:dead_letter_queue"
)

var ErrJobNotFound = errors.New("job not found")

type Queue struct {
	client *redis.Client
}

func NewQueue(redisAddr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func score(j *job.Job) float64 {
	invertedPriority := float64(job.HighPriority - j.Priority)
	return float64(j.ScheduledAt.Unix())*1000 + invertedPriority
}

func (q *Queue) Enqueue(ctx context.Context, j *job.Job) error {
	jobJSON, err := j.ToJSON()
	if err != nil {
		return err
	}

	if err := q.client.HSet(ctx, jobsKey, j.ID, jobJSON).Err(); err != nil {
		return err
	}

	if err := q.client.ZAdd(ctx, pendingKey, redis.Z{Score: score(j), Member: j.ID}).Err(); err != nil {
		return err
	}

	metrics.RecordJobEnqueued(j.Type, j.Priority)
	return nil
}

// Dequeue claims the next due job. It returns nil, nil when nothing is due.
// A job is handed to exactly one caller: the ZREM that removes it from the
// pending set is the claim.
func (q *Queue) Dequeue(ctx context.Context) (*job.Job, error) {
	now := time.Now().Unix()
	maxScore := float64(now)*1000 + float64(job.HighPriority-job.LowPriority)

	results, err := q.client.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", maxScore),
		Count: 1,
	}).Result()
	if err != nil || len(results) == 0 {
		return nil, err
	}

	jobID := results[0]
	removed, err := q.client.ZRem(ctx, pendingKey, jobID).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, nil
	}

	return q.GetJob(ctx, jobID)
}

func (q *Queue) UpdateJob(ctx context.Context, j *job.Job) error {
	jobJSON, err := j.ToJSON()
	if err != nil {
		return err
	}

	return q.client.HSet(ctx, jobsKey, j.ID, jobJSON).Err()
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	jobJSON, err := q.client.HGet(ctx, jobsKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}

	return job.JobFromJSON(jobJSON)
}

// GetAllJobs returns every known job, newest first. Unreadable entries are skipped.
func (q *Queue) GetAllJobs(ctx context.Context) ([]*job.Job, error) {
	jobMap, err := q.client.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(jobMap))
	for id, jobJSON := range jobMap {
		j, err := job.JobFromJSON(jobJSON)
		if err != nil {
			log.Warn().Err(err).Str("job_id", id).Msg("skipping unreadable job")
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	return jobs, nil
}

// MoveToDeadLetter parks a job that will not be retried again.
func (q *Queue) MoveToDeadLetter(ctx context.Context, j *job.Job, reason string) error {
	now := time.Now()
	j.Status = job.DeadLetterStatus
	j.Error = reason
	j.MovedToDLQ = &now

	if err := q.UpdateJob(ctx, j); err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, pendingKey, j.ID)
	pipe.ZAdd(ctx, deadLetterKey, redis.Z{Score: float64(now.Unix()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	metrics.RecordJobDeadLettered(j.Type)
	return nil
}

func (q *Queue) GetDeadLetterJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := q.client.ZRevRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("job_id", id).Msg("dead letter entry without job body")
			continue
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// Depth reports the number of pending and dead-lettered jobs and updates the gauges.
func (q *Queue) Depth(ctx context.Context) (pending, deadLetter int64, err error) {
	if pending, err = q.client.ZCard(ctx, pendingKey).Result(); err != nil {
		return 0, 0, err
	}
	if deadLetter, err = q.client.ZCard(ctx, deadLetterKey).Result(); err != nil {
		return 0, 0, err
	}

	metrics.UpdateQueueDepth(int(pending))
	metrics.UpdateDeadLetterQueueDepth(int(deadLetter))

	return pending, deadLetter, nil
}

// NotifyTierChange enqueues an emission alert for the worker.
func (q *Queue) NotifyTierChange(ctx context.Context, change accounting.TierChange) error {
	payload := map[string]any{
		"project_id":    change.ProjectID,
		"project_name":  change.ProjectName,
		"previous_tier": string(change.Previous),
		"current_tier":  string(change.Current),
		"total_co2":     change.Total,
	}

	return q.Enqueue(ctx, job.NewJob(job.TypeEmissionAlert, payload, job.HighPriority))
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}

var _ accounting.Notifier = (*Queue)(nil)
