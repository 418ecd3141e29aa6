// Package finalize turns a harvested live into an on-demand video.
package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/notify"
)

// ErrNotHarvested rejects a conversion before harvesting has finished.
var ErrNotHarvested = models.NewPreconditionError("Live is not harvested.")

// Finalizer converts harvested lives.
type Finalizer struct {
	store    lives.Store
	notifier notify.Notifier
	pipeline string
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a finalizer. pipeline names the transcode pipeline recorded on converted videos.
func New(store lives.Store, notifier notify.Notifier, pipeline string, m *metrics.Metrics, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{store: store, notifier: notifier, pipeline: pipeline, metrics: m, logger: logger, now: time.Now}
}

// Convert ends a harvested live and hands its recording to the transcode pipeline.
func (f *Finalizer) Convert(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	live, err := f.store.Update(ctx, id, func(l *models.LiveResource) error {
		if l.LiveState != models.LiveStateHarvested {
			return ErrNotHarvested
		}
		if err := l.Transition(models.LiveStateEnded); err != nil {
			return err
		}
		l.RecordingTime = l.RecordedSeconds()
		l.UploadState = models.UploadStateProcessing
		l.TranscodePipeline = f.pipeline
		if l.SideChannel != models.SideChannelNone && l.SideChannel != "" {
			l.SideChannel = models.SideChannelVOD
		}
		uploaded := f.now().UTC()
		l.UploadedOn = &uploaded
		l.LiveInfo = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.metrics.IncTransition(string(models.LiveStateHarvested), string(models.LiveStateEnded))
	f.logger.Info("live converted to video",
		zap.String("video_id", id.String()),
		zap.Int64("recording_time", live.RecordingTime),
		zap.Int("ready_slices", live.CountSlices(models.SliceStatusReady)),
	)
	notify.NotifyAll(ctx, f.notifier, live)
	return live, nil
}
