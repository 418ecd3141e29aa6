package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/internal/recording"
)

var errConverged = errors.New("already converged")

// StateSync aligns live states with the provider's channel states and
// resumes harvests left in flight.
type StateSync struct {
	env     string
	encoder provider.Encoder
	store   lives.Store
	resumer Resumer
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	minSegment time.Duration
}

// NewStateSync creates the state sync sweep for one deployment environment.
func NewStateSync(env string, enc provider.Encoder, store lives.Store, resumer Resumer, m *metrics.Metrics, logger *zap.Logger) *StateSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateSync{env: env, encoder: enc, store: store, resumer: resumer, metrics: m, logger: logger, now: time.Now}
}

// SetClock replaces the time source used for started_at / stopped_at.
func (s *StateSync) SetClock(now func() time.Time) { s.now = now }

// SetMinSegment sets the shortest recording window kept when a demoted
// live's open window is closed.
func (s *StateSync) SetMinSegment(d time.Duration) { s.minSegment = d }

// Run walks every provider channel once. A listing failure aborts the run;
// a failure on one candidate does not.
func (s *StateSync) Run(ctx context.Context) (Report, error) {
	var report Report
	t := tally{sweep: SweepStateSync, report: &report, metrics: s.metrics, logger: s.logger}

	for ch, err := range provider.Channels(ctx, s.encoder) {
		if err != nil {
			return report, fmt.Errorf("list channels: %w", err)
		}
		s.syncChannel(ctx, t, ch)
	}

	if s.resumer == nil {
		return report, nil
	}
	harvesting, err := s.store.ListByStates(ctx, models.LiveStateHarvesting)
	if err != nil {
		return report, fmt.Errorf("list harvesting lives: %w", err)
	}
	for _, live := range harvesting {
		fields := []zap.Field{zap.String("video_id", live.ID.String())}
		if err := s.resumer.Resume(ctx, live.ID); err != nil {
			t.record(metrics.OutcomeFailed, ActionResume, append(fields, zap.Error(err))...)
			continue
		}
		t.record(metrics.OutcomeUpdated, ActionResume, fields...)
	}
	return report, nil
}

func (s *StateSync) syncChannel(ctx context.Context, t tally, ch provider.Channel) {
	fields := []zap.Field{
		zap.String("channel_id", ch.ID),
		zap.String("channel_name", ch.Name),
		zap.String("channel_state", string(ch.State)),
	}
	ref, err := provider.Parse(ch.Name)
	if err != nil {
		t.record(metrics.OutcomeSkipped, ActionUnparsable, fields...)
		return
	}
	if ref.Env != s.env {
		t.record(metrics.OutcomeSkipped, ActionOtherEnv, fields...)
		return
	}
	fields = append(fields, zap.String("video_id", ref.ID.String()))
	if ch.State.IsTransient() {
		t.record(metrics.OutcomeSkipped, ActionTransient, fields...)
		return
	}

	live, err := s.store.Get(ctx, ref.ID)
	if errors.Is(err, lives.ErrNotFound) {
		t.record(metrics.OutcomeSkipped, ActionUnmatched, fields...)
		return
	}
	if err != nil {
		t.record(metrics.OutcomeFailed, ActionFailed, append(fields, zap.Error(err))...)
		return
	}
	if id := live.Info().ChannelID; id != "" && id != ch.ID {
		t.record(metrics.OutcomeSkipped, ActionStale, fields...)
		return
	}
	if _, ok := NextState(ch.State, live.LiveState); !ok {
		t.record(metrics.OutcomeSkipped, ActionUnchanged, append(fields, zap.String("live_state", string(live.LiveState)))...)
		return
	}

	var from, to models.LiveState
	dropped := false
	now := s.now().Unix()
	_, err = s.store.Update(ctx, ref.ID, func(l *models.LiveResource) error {
		next, ok := NextState(ch.State, l.LiveState)
		if !ok {
			return errConverged
		}
		from = l.LiveState
		if err := l.Transition(next); err != nil {
			return err
		}
		to = next
		info := l.EnsureInfo()
		switch next {
		case models.LiveStateRunning:
			info.StartedAt = models.Int64(now)
		case models.LiveStateStopped:
			info.StoppedAt = models.Int64(now)
			var err error
			dropped, err = recording.CloseSlice(l, now, s.minSegment)
			return err
		}
		return nil
	})
	if errors.Is(err, errConverged) {
		t.record(metrics.OutcomeSkipped, ActionUnchanged, fields...)
		return
	}
	if err != nil {
		t.record(metrics.OutcomeFailed, ActionFailed, append(fields, zap.Error(err))...)
		return
	}

	s.metrics.IncTransition(string(from), string(to))
	action := ActionPromote
	if to == models.LiveStateStopped {
		action = ActionDemote
		if dropped {
			fields = append(fields, zap.Bool("recording_dropped", true))
		}
	}
	t.record(metrics.OutcomeUpdated, action, append(fields, zap.String("from", string(from)), zap.String("to", string(to)))...)
}
