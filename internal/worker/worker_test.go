package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-live/backend/internal/harvest"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/pkg/queue"
)

type stubHarvester struct {
	mu        sync.Mutex
	outcome   harvest.Outcome
	err       error
	runs      []uuid.UUID
	completed map[string]provider.HarvestJobStatus
}

func (h *stubHarvester) Run(_ context.Context, id uuid.UUID) (harvest.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, id)
	return h.outcome, h.err
}

func (h *stubHarvester) CompleteJob(_ context.Context, jobID string, status provider.HarvestJobStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.completed == nil {
		h.completed = make(map[string]provider.HarvestJobStatus)
	}
	h.completed[jobID] = status
	return nil
}

type memQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (q *memQueue) Dequeue(_ context.Context, _ time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *memQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func harvestJob(t *testing.T, id uuid.UUID) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.HarvestPayload{LiveID: id})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeHarvest, Payload: body}
}

func TestProcessHarvest(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name    string
		outcome harvest.Outcome
		err     error
		wantErr bool
	}{
		{name: "submitted", outcome: harvest.Outcome{Submitted: []string{"a"}}},
		{name: "manifest missing", outcome: harvest.Outcome{ManifestMissing: true}},
		{name: "precondition dropped", err: harvest.ErrNotStopped},
		{name: "slice failures retried", outcome: harvest.Outcome{Failed: []harvest.SliceError{{Index: 1, Err: errors.New("x")}}}, wantErr: true},
		{name: "store failure retried", err: errors.New("connection refused"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &stubHarvester{outcome: tc.outcome, err: tc.err}
			p := NewHarvestProcessor(h, &memQueue{}, nil)
			err := p.Process(context.Background(), harvestJob(t, id))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []uuid.UUID{id}, h.runs)
		})
	}
}

func TestProcessCompletion(t *testing.T) {
	h := &stubHarvester{}
	p := NewHarvestProcessor(h, &memQueue{}, nil)
	body, _ := json.Marshal(queue.HarvestCompletionPayload{JobID: "job-1", Status: "succeeded"})

	require.NoError(t, p.Process(context.Background(), &queue.Job{Type: queue.JobTypeHarvestCompletion, Payload: body}))
	assert.Equal(t, provider.HarvestSucceeded, h.completed["job-1"])

	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "transcode"}))
}

func TestRunRetriesFailedJobs(t *testing.T) {
	h := &stubHarvester{err: errors.New("boom")}
	q := &memQueue{jobs: []*queue.Job{harvestJob(t, uuid.New())}}
	p := NewHarvestProcessor(h, q, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, q.retried[0].Attempt)
}
