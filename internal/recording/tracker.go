// Package recording opens and closes recording windows on a running live.
package recording

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/models"
)

// Rejections returned by the tracker. Messages are shown to users as is.
var (
	ErrNotRunning       = models.NewPreconditionError("Live is not running.")
	ErrNotAllowed       = models.NewPreconditionError("Recording is not allowed for this video.")
	ErrAlreadyRecording = models.NewPreconditionError("Video recording is already started.")
	ErrNotRecording     = models.NewPreconditionError("Video recording is not started.")
	ErrSegmentTooShort  = models.NewPreconditionError("Segment not long enough.")
)

// Tracker mutates recording slices under the store's row lock.
type Tracker struct {
	store      lives.Store
	minSegment time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewTracker creates a tracker. minSegment is the shortest window that may be closed.
func NewTracker(store lives.Store, minSegment time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, minSegment: minSegment, now: time.Now, logger: logger}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// StartRecording appends an open slice starting now.
func (t *Tracker) StartRecording(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	now := t.now().Unix()
	live, err := t.store.Update(ctx, id, func(l *models.LiveResource) error {
		return StartSlice(l, now)
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Recording started", zap.String("video_id", id.String()), zap.Int("slice_index", len(live.RecordingSlices)))
	return live, nil
}

// StopRecording closes the open slice and marks it pending for harvest.
func (t *Tracker) StopRecording(ctx context.Context, id uuid.UUID) (*models.LiveResource, error) {
	now := t.now().Unix()
	live, err := t.store.Update(ctx, id, func(l *models.LiveResource) error {
		return StopSlice(l, now, t.minSegment)
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Recording stopped",
		zap.String("video_id", id.String()),
		zap.Int("slice_index", len(live.RecordingSlices)),
		zap.Int64("recorded_seconds", live.RecordedSeconds()),
	)
	return live, nil
}

// StartSlice checks the start preconditions in order and opens a slice at now.
func StartSlice(l *models.LiveResource, now int64) error {
	switch {
	case l.LiveState != models.LiveStateRunning:
		return ErrNotRunning
	case !l.AllowRecording:
		return ErrNotAllowed
	case l.IsRecording():
		return ErrAlreadyRecording
	}
	l.RecordingSlices = append(l.RecordingSlices, models.RecordingSlice{Start: now})
	return nil
}

// StopSlice closes the open slice at now if it has lasted at least minSegment.
// A slice always ends strictly after it starts.
func StopSlice(l *models.LiveResource, now int64, minSegment time.Duration) error {
	i := l.OpenSlice()
	if i < 0 {
		return ErrNotRecording
	}
	start := l.RecordingSlices[i].Start
	if now <= start || time.Duration(now-start)*time.Second < minSegment {
		return ErrSegmentTooShort
	}
	l.RecordingSlices[i].Stop = models.Int64(now)
	l.RecordingSlices[i].Status = models.SliceStatusPending
	return nil
}

// CloseSlice ends the open slice, if any, when the live goes off air at now.
// A window shorter than minSegment is dropped instead; dropped reports that.
func CloseSlice(l *models.LiveResource, now int64, minSegment time.Duration) (dropped bool, err error) {
	open := l.OpenSlice()
	if open < 0 {
		return false, nil
	}
	err = StopSlice(l, now, minSegment)
	if errors.Is(err, ErrSegmentTooShort) {
		l.RecordingSlices = slices.Delete(l.RecordingSlices, open, open+1)
		return true, nil
	}
	return false, err
}
