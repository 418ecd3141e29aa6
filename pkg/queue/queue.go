package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueHarvest is the Redis list key for harvest jobs.
	QueueHarvest = "liveops:harvest"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "liveops:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeHarvest           JobType = "harvest"
	JobTypeHarvestCompletion JobType = "harvest_completion"
)

// HarvestPayload asks the worker to harvest the pending slices of a live.
type HarvestPayload struct {
	LiveID uuid.UUID `json:"live_id"`
}

// HarvestCompletionPayload carries a provider notification that a harvest job finished.
type HarvestCompletionPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueHarvest enqueues a harvest job for a live.
func (q *Queue) EnqueueHarvest(ctx context.Context, payload HarvestPayload) error {
	job, err := q.enqueue(ctx, JobTypeHarvest, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued harvest job", zap.String("job_id", job.ID), zap.String("video_id", payload.LiveID.String()))
	return nil
}

// EnqueueHarvestCompletion enqueues a harvest completion notification.
func (q *Queue) EnqueueHarvestCompletion(ctx context.Context, payload HarvestCompletionPayload) error {
	job, err := q.enqueue(ctx, JobTypeHarvestCompletion, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued harvest completion", zap.String("job_id", job.ID), zap.String("harvest_job_id", payload.JobID))
	return nil
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueHarvest, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// Dequeue blocks until a job is available, timeout elapses (0 waits forever)
// or ctx is done. Returns a nil job on timeout or on an unreadable entry.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueHarvest).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueHarvest, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Depth returns the number of jobs waiting in a list.
func (q *Queue) Depth(ctx context.Context, key string) (int64, error) {
	n, err := q.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}
