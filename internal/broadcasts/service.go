// Package broadcasts exposes the user actions on a live resource: create,
// start/stop, recording windows, harvest, conversion and deletion.
package broadcasts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/harvest"
	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/notify"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/internal/recording"
	"github.com/campus-live/backend/pkg/queue"
)

var (
	ErrNotProvisioned   = models.NewPreconditionError("Live has no encoding stack.")
	ErrNothingToHarvest = models.NewPreconditionError("No recording to harvest.")
	ErrOnAir            = models.NewPreconditionError("Live is on air.")
	ErrInvalidLiveType  = models.NewPreconditionError("Live type must be raw or jitsi.")
	ErrInvalidSide      = models.NewPreconditionError("Side channel must be none or live.")
	ErrTitleRequired    = models.NewPreconditionError("Title is required.")
	ErrInvalidJobStatus = models.NewPreconditionError("Unknown harvest job status.")
	ErrInvalidJobID     = models.NewPreconditionError("Unknown harvest job id.")
)

// Provisioner creates, drives and removes the provider stack of a live.
type Provisioner interface {
	CreateLiveStream(ctx context.Context, id uuid.UUID) (models.LiveInfo, error)
	StartChannel(ctx context.Context, channelID string) error
	StopChannel(ctx context.Context, channelID string) error
	Teardown(ctx context.Context, info models.LiveInfo) error
}

// HarvestQueue hands harvest work to the worker.
type HarvestQueue interface {
	EnqueueHarvest(ctx context.Context, payload queue.HarvestPayload) error
	EnqueueHarvestCompletion(ctx context.Context, payload queue.HarvestCompletionPayload) error
}

// Converter turns a harvested live into a video.
type Converter interface {
	Convert(ctx context.Context, id uuid.UUID) (*models.LiveResource, error)
}

// Purger empties the storage prefix of a live.
type Purger interface {
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

// Signer issues time-limited playback URLs for harvested manifests.
type Signer interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// Deps groups the collaborators of a Service. Purger and Signer are optional.
type Deps struct {
	Store       lives.Store
	Provisioner Provisioner
	Tracker     *recording.Tracker
	Queue       HarvestQueue
	Converter   Converter
	Notifier    notify.Notifier
	Purger      Purger
	Signer      Signer
	Metrics     *metrics.Metrics
	MinSegment  time.Duration
}

// CreateRequest describes a new live.
type CreateRequest struct {
	Title          string     `json:"title"`
	LiveType       string     `json:"live_type"`
	AllowRecording bool       `json:"allow_recording"`
	SideChannel    string     `json:"side_channel"`
	StartingAt     *time.Time `json:"starting_at"`
}

func (r *CreateRequest) normalize() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return ErrTitleRequired
	}
	switch models.LiveType(r.LiveType) {
	case "":
		r.LiveType = string(models.LiveTypeRaw)
	case models.LiveTypeRaw, models.LiveTypeJitsi:
	default:
		return ErrInvalidLiveType
	}
	switch r.SideChannel {
	case "":
		r.SideChannel = models.SideChannelNone
	case models.SideChannelNone, models.SideChannelLive:
	default:
		return ErrInvalidSide
	}
	return nil
}

// Recording is a harvested slice with a signed playback URL.
type Recording struct {
	Index     int       `json:"index"`
	Start     int64     `json:"start"`
	Stop      int64     `json:"stop"`
	Duration  int64     `json:"duration"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service runs user actions against the store and the provider stack.
type Service struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the broadcast service.
func NewService(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger, now: time.Now}
}

// SetClock replaces the time source used to close slices on stop.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get returns a live by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	return s.deps.Store.Get(ctx, id)
}

// Create stores an idle live and provisions its stack. When provisioning
// fails the idle row is kept and returned with the error; the cleanup sweep
// reclaims whatever was created.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.LiveResource, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	live := &models.LiveResource{
		Title:          req.Title,
		LiveState:      models.LiveStateIdle,
		LiveType:       models.LiveType(req.LiveType),
		AllowRecording: req.AllowRecording,
		UploadState:    models.UploadStatePending,
		SideChannel:    req.SideChannel,
		StartingAt:     req.StartingAt,
	}
	if err := s.deps.Store.Create(ctx, live); err != nil {
		return nil, fmt.Errorf("create live: %w", err)
	}
	log := s.logger.With(zap.String("video_id", live.ID.String()))

	info, err := s.deps.Provisioner.CreateLiveStream(ctx, live.ID)
	if err != nil {
		log.Error("provisioning failed", zap.Error(err))
		return live, fmt.Errorf("provision live %s: %w", live.ID, err)
	}
	live, err = s.deps.Store.Update(ctx, live.ID, func(l *models.LiveResource) error {
		l.LiveInfo = &info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist live info: %w", err)
	}
	log.Info("Live created", zap.String("channel_id", info.ChannelID), zap.String("live_type", string(live.LiveType)))
	s.notify(ctx, live)
	return live, nil
}

// Start moves an idle or stopped live to starting and starts its channel.
// A failed start leaves the live in starting for the state sync to demote.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	var from models.LiveState
	live, err := s.deps.Store.Update(ctx, id, func(l *models.LiveResource) error {
		if l.Info().ChannelID == "" {
			return ErrNotProvisioned
		}
		from = l.LiveState
		return l.Transition(models.LiveStateStarting)
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.IncTransition(string(from), string(live.LiveState))
	s.notify(ctx, live)

	if err := s.deps.Provisioner.StartChannel(ctx, live.Info().ChannelID); err != nil {
		s.logger.Error("channel start failed", zap.String("video_id", id.String()), zap.Error(err))
		return live, err
	}
	s.logger.Info("Live starting", zap.String("video_id", id.String()), zap.String("channel_id", live.Info().ChannelID))
	return live, nil
}

// Stop moves a running live to stopping and stops its channel. An open
// recording window is closed, or dropped when it is shorter than the
// minimum segment duration.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	now := s.now().Unix()
	dropped := false
	live, err := s.deps.Store.Update(ctx, id, func(l *models.LiveResource) error {
		if err := l.Transition(models.LiveStateStopping); err != nil {
			return err
		}
		var err error
		dropped, err = recording.CloseSlice(l, now, s.deps.MinSegment)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.IncTransition(string(models.LiveStateRunning), string(models.LiveStateStopping))
	log := s.logger.With(zap.String("video_id", id.String()))
	if dropped {
		log.Info("short recording window dropped on stop")
	}
	s.notify(ctx, live)

	if err := s.deps.Provisioner.StopChannel(ctx, live.Info().ChannelID); err != nil {
		log.Error("channel stop failed", zap.Error(err))
		return live, err
	}
	log.Info("Live stopping", zap.String("channel_id", live.Info().ChannelID))
	return live, nil
}

// StartRecording opens a recording window.
func (s *Service) StartRecording(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := s.deps.Tracker.StartRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, live)
	return live, nil
}

// StopRecording closes the open recording window.
func (s *Service) StopRecording(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := s.deps.Tracker.StopRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, live)
	return live, nil
}

// Harvest moves a stopped live with pending slices to harvesting and queues
// the harvest. If queueing fails the live stays in harvesting and the state
// sync resumes it.
func (s *Service) Harvest(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := s.deps.Store.Update(ctx, id, func(l *models.LiveResource) error {
		if l.LiveState != models.LiveStateStopped {
			return harvest.ErrNotStopped
		}
		if l.CountSlices(models.SliceStatusPending) == 0 {
			return ErrNothingToHarvest
		}
		return l.Transition(models.LiveStateHarvesting)
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.IncTransition(string(models.LiveStateStopped), string(models.LiveStateHarvesting))
	s.notify(ctx, live)

	if err := s.deps.Queue.EnqueueHarvest(ctx, queue.HarvestPayload{LiveID: id}); err != nil {
		s.logger.Error("enqueue harvest failed", zap.String("video_id", id.String()), zap.Error(err))
		return live, fmt.Errorf("enqueue harvest: %w", err)
	}
	s.logger.Info("Harvest queued", zap.String("video_id", id.String()), zap.Int("pending_slices", live.CountSlices(models.SliceStatusPending)))
	return live, nil
}

// Convert ends a harvested live and turns it into a video.
func (s *Service) Convert(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	return s.deps.Converter.Convert(ctx, id)
}

// Delete tears down the provider stack, empties the storage prefix and marks
// the live deleted. Lives on air are refused.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if live.LiveState.IsOnAir() {
		return nil, ErrOnAir
	}
	if live.LiveState == models.LiveStateDeleted {
		return live, nil
	}
	if err := s.deps.Provisioner.Teardown(ctx, live.Info()); err != nil {
		return nil, fmt.Errorf("teardown live %s: %w", id, err)
	}
	if s.deps.Purger != nil {
		if _, err := s.deps.Purger.PurgePrefix(ctx, provider.ObjectPrefix(id)); err != nil {
			return nil, err
		}
	}

	var from models.LiveState
	live, err = s.deps.Store.Update(ctx, id, func(l *models.LiveResource) error {
		if l.LiveState.IsOnAir() {
			return ErrOnAir
		}
		from = l.LiveState
		if err := l.Transition(models.LiveStateDeleted); err != nil {
			return err
		}
		l.UploadState = models.UploadStateDeleted
		l.LiveInfo = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.IncTransition(string(from), string(models.LiveStateDeleted))
	s.logger.Info("Live deleted", zap.String("video_id", id.String()), zap.String("from", string(from)))
	s.notify(ctx, live)
	return live, nil
}

// Recordings signs a playback URL for every ready slice.
func (s *Service) Recordings(ctx context.Context, id uuid.UUID) ([]Recording, error) {
	live, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []Recording{}
	if s.deps.Signer == nil {
		return out, nil
	}
	expires := s.deps.Signer.PresignExpire()
	for i, slice := range live.RecordingSlices {
		if slice.Status != models.SliceStatusReady || slice.ManifestKey == "" {
			continue
		}
		url, err := s.deps.Signer.GeneratePresignedDownloadURL(ctx, slice.ManifestKey, expires)
		if err != nil {
			return nil, fmt.Errorf("sign slice %d: %w", i+1, err)
		}
		out = append(out, Recording{
			Index:     i + 1,
			Start:     slice.Start,
			Stop:      *slice.Stop,
			Duration:  slice.Duration(),
			URL:       url,
			ExpiresAt: s.now().Add(expires),
		})
	}
	return out, nil
}

// HarvestJobEvent queues a completion reported by the packager.
func (s *Service) HarvestJobEvent(ctx context.Context, jobID string, status provider.HarvestJobStatus) error {
	switch status {
	case provider.HarvestInProgress, provider.HarvestSucceeded, provider.HarvestFailed:
	default:
		return ErrInvalidJobStatus
	}
	if _, _, _, err := provider.ParseHarvestJobID(jobID); err != nil {
		return ErrInvalidJobID
	}
	if status == provider.HarvestInProgress {
		return nil
	}
	return s.deps.Queue.EnqueueHarvestCompletion(ctx, queue.HarvestCompletionPayload{JobID: jobID, Status: string(status)})
}

func (s *Service) notify(ctx context.Context, live *models.LiveResource) {
	notify.NotifyAll(ctx, s.deps.Notifier, live)
}
