// Package harvest turns closed recording slices into durable assets by
// submitting one packager harvest job per slice.
package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

// Harvest job metric results.
const (
	ResultSubmitted = "submitted"
	ResultAdopted   = "adopted"
	ResultFailed    = "failed"
	ResultReady     = "ready"
	ResultError     = "error"
)

var (
	// ErrNotStopped rejects a harvest on a live that is still on air or already done.
	ErrNotStopped = models.NewPreconditionError("Live is not stopped.")
	// ErrUnknownJob is returned when a completion names a job no slice carries.
	ErrUnknownJob = errors.New("harvest job does not match any slice")

	errSliceMoved = errors.New("slice is no longer pending")
)

// Stack removes provider resources once harvesting is over.
type Stack interface {
	Teardown(ctx context.Context, info models.LiveInfo) error
	DeletePackaging(ctx context.Context, packagingChannelID string) error
}

// SliceError is a submission failure for one slice.
type SliceError struct {
	Index int
	Err   error
}

// Outcome reports what a harvest run did. A manifest-missing run is not an error.
type Outcome struct {
	ManifestMissing bool
	Submitted       []string
	Adopted         []string
	Failed          []SliceError
	ManifestKeys    []string
}

// Orchestrator submits harvest jobs and settles the live once they finish.
type Orchestrator struct {
	store    lives.Store
	packager provider.Packager
	stack    Stack
	prober   ManifestProber
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(store lives.Store, packager provider.Packager, stack Stack, prober ManifestProber, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		packager: packager,
		stack:    stack,
		prober:   prober,
		metrics:  m,
		logger:   logger,
	}
}

// Run harvests every pending slice of a stopped or harvesting live.
// Slices that already carry a job are never submitted again.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (Outcome, error) {
	log := o.logger.With(zap.String("video_id", id.String()))

	live, err := o.store.Update(ctx, id, func(l *models.LiveResource) error {
		switch l.LiveState {
		case models.LiveStateHarvesting:
			return nil
		case models.LiveStateStopped:
			return o.transition(l, models.LiveStateHarvesting)
		default:
			return ErrNotStopped
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	info := live.Info()

	if err := o.prober.Probe(ctx, info.PackagingEndpointURL); err != nil {
		if inFlight(live) {
			log.Warn("packaging manifest missing with jobs in flight, failing pending slices", zap.String("url", info.PackagingEndpointURL), zap.Error(err))
			return o.failPending(ctx, id, err)
		}
		log.Warn("packaging manifest missing, skipping harvest", zap.String("url", info.PackagingEndpointURL), zap.Error(err))
		return o.manifestMissing(ctx, live)
	}

	var out Outcome
	for i, slice := range live.RecordingSlices {
		if slice.IsOpen() || slice.Status != models.SliceStatusPending {
			continue
		}
		index := i + 1
		req := provider.HarvestRequest{
			ID:          provider.HarvestJobID(id, info.Stamp, index),
			EndpointID:  info.PackagingEndpointID,
			Start:       slice.Start,
			End:         *slice.Stop,
			ManifestKey: provider.ManifestKey(id, info.Stamp, index),
		}
		sliceLog := log.With(zap.Int("slice_index", index), zap.String("job_id", req.ID))

		job, adopted, err := o.submit(ctx, req)
		if err != nil {
			o.metrics.IncHarvestJob(ResultFailed)
			sliceLog.Error("harvest job submission failed", zap.Error(err))
			out.Failed = append(out.Failed, SliceError{Index: index, Err: err})
			continue
		}
		err = o.markProcessing(ctx, id, index, job.ID, req.ManifestKey)
		if errors.Is(err, errSliceMoved) {
			sliceLog.Info("slice changed during submission, job not recorded")
			continue
		}
		if err != nil {
			sliceLog.Error("failed to persist harvest job", zap.Error(err))
			out.Failed = append(out.Failed, SliceError{Index: index, Err: err})
			continue
		}
		if adopted {
			o.metrics.IncHarvestJob(ResultAdopted)
			out.Adopted = append(out.Adopted, job.ID)
			sliceLog.Info("existing harvest job adopted")
		} else {
			o.metrics.IncHarvestJob(ResultSubmitted)
			out.Submitted = append(out.Submitted, job.ID)
			sliceLog.Info("harvest job submitted")
		}
		out.ManifestKeys = append(out.ManifestKeys, req.ManifestKey)
	}

	if _, err := o.settle(ctx, id); err != nil {
		return out, err
	}
	return out, nil
}

// submit creates the job. When creation fails but the provider already
// knows the id, the existing job is adopted instead.
func (o *Orchestrator) submit(ctx context.Context, req provider.HarvestRequest) (provider.HarvestJob, bool, error) {
	job, err := o.packager.CreateHarvestJob(ctx, req)
	if err == nil {
		return job, false, nil
	}
	existing, derr := o.packager.DescribeHarvestJob(ctx, req.ID)
	if derr == nil {
		return existing, true, nil
	}
	return provider.HarvestJob{}, false, fmt.Errorf("create harvest job %s: %w", req.ID, err)
}

func (o *Orchestrator) markProcessing(ctx context.Context, id uuid.UUID, index int, jobID, manifestKey string) error {
	_, err := o.store.Update(ctx, id, func(l *models.LiveResource) error {
		if index > len(l.RecordingSlices) || l.RecordingSlices[index-1].Status != models.SliceStatusPending {
			return errSliceMoved
		}
		s := &l.RecordingSlices[index-1]
		s.Status = models.SliceStatusProcessing
		s.HarvestJobID = jobID
		s.ManifestKey = manifestKey
		s.HarvestedDirectory = provider.HarvestDirectory(index)
		return nil
	})
	return err
}

// inFlight reports whether a harvest of the live already produced jobs.
func inFlight(l *models.LiveResource) bool {
	return l.CountSlices(models.SliceStatusProcessing) > 0 || l.CountSlices(models.SliceStatusReady) > 0
}

// failPending marks every closed pending slice as failed so that settle can
// move the live on once the jobs already running finish. The packaging
// channel is kept for those jobs.
func (o *Orchestrator) failPending(ctx context.Context, id uuid.UUID, cause error) (Outcome, error) {
	var out Outcome
	_, err := o.store.Update(ctx, id, func(l *models.LiveResource) error {
		out.Failed = out.Failed[:0]
		for i := range l.RecordingSlices {
			s := &l.RecordingSlices[i]
			if s.IsOpen() || s.Status != models.SliceStatusPending {
				continue
			}
			s.Status = models.SliceStatusError
			out.Failed = append(out.Failed, SliceError{Index: i + 1, Err: cause})
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	for range out.Failed {
		o.metrics.IncHarvestJob(ResultFailed)
	}
	if _, err := o.settle(ctx, id); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) manifestMissing(ctx context.Context, live *models.LiveResource) (Outcome, error) {
	info := live.Info()
	if err := o.stack.DeletePackaging(ctx, info.PackagingChannelID); err != nil {
		return Outcome{}, err
	}
	_, err := o.store.Update(ctx, live.ID, func(l *models.LiveResource) error {
		if l.LiveInfo != nil {
			l.LiveInfo.PackagingChannelID = ""
			l.LiveInfo.PackagingEndpointID = ""
			l.LiveInfo.PackagingEndpointURL = ""
		}
		if l.LiveState == models.LiveStateHarvesting {
			return o.transition(l, models.LiveStateStopped)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	o.metrics.IncManifestMissing()
	return Outcome{ManifestMissing: true}, nil
}

// CompleteJob records the final status of a harvest job and settles the live.
func (o *Orchestrator) CompleteJob(ctx context.Context, jobID string, status provider.HarvestJobStatus) error {
	id, _, index, err := provider.ParseHarvestJobID(jobID)
	if err != nil {
		return err
	}
	if status == provider.HarvestInProgress {
		return nil
	}
	if err := o.complete(ctx, id, index, jobID, status); err != nil {
		return err
	}
	_, err = o.settle(ctx, id)
	return err
}

func (o *Orchestrator) complete(ctx context.Context, id uuid.UUID, index int, jobID string, status provider.HarvestJobStatus) error {
	changed := false
	_, err := o.store.Update(ctx, id, func(l *models.LiveResource) error {
		if index > len(l.RecordingSlices) || l.RecordingSlices[index-1].HarvestJobID != jobID {
			return ErrUnknownJob
		}
		s := &l.RecordingSlices[index-1]
		if s.Status.IsTerminal() {
			return nil
		}
		if status == provider.HarvestSucceeded {
			s.Status = models.SliceStatusReady
		} else {
			s.Status = models.SliceStatusError
		}
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete harvest job %s: %w", jobID, err)
	}
	if changed {
		result := ResultReady
		if status != provider.HarvestSucceeded {
			result = ResultError
		}
		o.metrics.IncHarvestJob(result)
		o.logger.Info("harvest job finished",
			zap.String("video_id", id.String()),
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
		)
	}
	return nil
}

// Refresh polls the provider for every processing slice of a live.
func (o *Orchestrator) Refresh(ctx context.Context, id uuid.UUID) error {
	live, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	for i, s := range live.RecordingSlices {
		if s.Status != models.SliceStatusProcessing {
			continue
		}
		job, err := o.packager.DescribeHarvestJob(ctx, s.HarvestJobID)
		if err != nil {
			o.logger.Warn("describe harvest job failed", zap.String("job_id", s.HarvestJobID), zap.Error(err))
			continue
		}
		if job.Status == provider.HarvestInProgress {
			continue
		}
		if err := o.complete(ctx, id, i+1, s.HarvestJobID, job.Status); err != nil {
			return err
		}
	}
	_, err = o.settle(ctx, id)
	return err
}

// Resume finishes whatever a harvest run left undone: pending slices are
// submitted, processing ones are polled.
func (o *Orchestrator) Resume(ctx context.Context, id uuid.UUID) error {
	live, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if live.LiveState != models.LiveStateHarvesting {
		return nil
	}
	if live.CountSlices(models.SliceStatusPending) > 0 {
		if _, err := o.Run(ctx, id); err != nil {
			return err
		}
	}
	return o.Refresh(ctx, id)
}

// settle moves a harvesting live on once no slice is pending or processing:
// to harvested when any slice is ready, back to stopped otherwise.
// A harvested live's provider stack is torn down.
func (o *Orchestrator) settle(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	moved := false
	live, err := o.store.Update(ctx, id, func(l *models.LiveResource) error {
		if l.LiveState != models.LiveStateHarvesting {
			return nil
		}
		if l.CountSlices(models.SliceStatusPending) > 0 || l.CountSlices(models.SliceStatusProcessing) > 0 {
			return nil
		}
		moved = true
		if l.CountSlices(models.SliceStatusReady) > 0 {
			return o.transition(l, models.LiveStateHarvested)
		}
		return o.transition(l, models.LiveStateStopped)
	})
	if err != nil {
		return nil, err
	}
	if !moved || live.LiveState != models.LiveStateHarvested {
		return live, nil
	}

	log := o.logger.With(zap.String("video_id", id.String()))
	if err := o.stack.Teardown(ctx, live.Info()); err != nil {
		log.Warn("teardown after harvest failed, leaving it to the cleanup sweep", zap.Error(err))
		return live, nil
	}
	log.Info("live harvested", zap.Int("ready_slices", live.CountSlices(models.SliceStatusReady)))
	return live, nil
}

func (o *Orchestrator) transition(l *models.LiveResource, to models.LiveState) error {
	from := l.LiveState
	if err := l.Transition(to); err != nil {
		return err
	}
	o.metrics.IncTransition(string(from), string(to))
	return nil
}
