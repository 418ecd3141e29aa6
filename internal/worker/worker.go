package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/harvest"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/pkg/queue"
)

// JobQueue is the part of queue.Queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Harvester runs harvests and records their completion.
type Harvester interface {
	Run(ctx context.Context, id uuid.UUID) (harvest.Outcome, error)
	CompleteJob(ctx context.Context, jobID string, status provider.HarvestJobStatus) error
}

// HarvestProcessor processes harvest and harvest completion jobs.
type HarvestProcessor struct {
	harvester Harvester
	queue     JobQueue
	logger    *zap.Logger
	backoff   time.Duration
	poll      time.Duration
}

// NewHarvestProcessor creates a harvest job processor.
func NewHarvestProcessor(h Harvester, q JobQueue, logger *zap.Logger) *HarvestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HarvestProcessor{harvester: h, queue: q, logger: logger, backoff: queue.RetryBackoff, poll: 5 * time.Second}
}

// Process executes one job. Rejections that a retry cannot fix are logged and dropped.
func (p *HarvestProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeHarvest:
		var payload queue.HarvestPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.processHarvest(ctx, payload)
	case queue.JobTypeHarvestCompletion:
		var payload queue.HarvestCompletionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := p.harvester.CompleteJob(ctx, payload.JobID, provider.HarvestJobStatus(payload.Status)); err != nil {
			return fmt.Errorf("complete harvest job %s: %w", payload.JobID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *HarvestProcessor) processHarvest(ctx context.Context, payload queue.HarvestPayload) error {
	log := p.logger.With(zap.String("video_id", payload.LiveID.String()))
	out, err := p.harvester.Run(ctx, payload.LiveID)
	if models.IsPrecondition(err) {
		log.Info("harvest skipped", zap.String("reason", err.Error()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("harvest %s: %w", payload.LiveID, err)
	}
	if out.ManifestMissing {
		log.Warn("harvest found no manifest, live kept stopped")
		return nil
	}
	if len(out.Failed) > 0 {
		return fmt.Errorf("harvest %s: %d slice submissions failed", payload.LiveID, len(out.Failed))
	}
	log.Info("harvest submitted", zap.Int("submitted", len(out.Submitted)), zap.Int("adopted", len(out.Adopted)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *HarvestProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("harvest worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *HarvestProcessor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
