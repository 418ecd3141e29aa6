package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

// CleanupConfig holds the cleanup sweep settings.
type CleanupConfig struct {
	Env       string
	Retention time.Duration
}

// Cleanup deletes orphaned provider stacks and reclaims lives whose
// retention window has passed.
type Cleanup struct {
	cfg       CleanupConfig
	encoder   provider.Encoder
	stack     Stack
	store     lives.Store
	reclaimer *Reclaimer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewCleanup creates the cleanup sweep.
func NewCleanup(cfg CleanupConfig, enc provider.Encoder, stack Stack, store lives.Store, reclaimer *Reclaimer, m *metrics.Metrics, logger *zap.Logger) *Cleanup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleanup{
		cfg:       cfg,
		encoder:   enc,
		stack:     stack,
		store:     store,
		reclaimer: reclaimer,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for retention checks.
func (c *Cleanup) SetClock(now func() time.Time) { c.now = now }

// Run lists every channel up front so deletions cannot disturb the walk,
// handles each one, then reclaims expired lives that no channel referenced.
func (c *Cleanup) Run(ctx context.Context) (Report, error) {
	var report Report
	t := tally{sweep: SweepCleanup, report: &report, metrics: c.metrics, logger: c.logger}

	var channels []provider.Channel
	for ch, err := range provider.Channels(ctx, c.encoder) {
		if err != nil {
			return report, fmt.Errorf("list channels: %w", err)
		}
		channels = append(channels, ch)
	}

	seen := make(map[uuid.UUID]bool)
	for _, ch := range channels {
		if id, ok := c.cleanChannel(ctx, t, ch); ok {
			seen[id] = true
		}
	}

	idle, err := c.store.ListByStates(ctx, models.LiveStateIdle, models.LiveStateStopped, models.LiveStateHarvesting)
	if err != nil {
		return report, fmt.Errorf("list lives: %w", err)
	}
	now := c.now()
	for _, live := range idle {
		if seen[live.ID] || !expired(live, now, c.cfg.Retention) {
			continue
		}
		fields := []zap.Field{zap.String("video_id", live.ID.String()), zap.String("live_state", string(live.LiveState))}
		if err := reclaim(ctx, c.stack, c.reclaimer, c.store, live, provider.Channel{}); err != nil {
			t.record(metrics.OutcomeFailed, ActionReclaim, append(fields, zap.Error(err))...)
			continue
		}
		t.record(metrics.OutcomeDeleted, ActionReclaim, fields...)
	}
	return report, nil
}

// cleanChannel handles one channel and returns the live id it belongs to.
func (c *Cleanup) cleanChannel(ctx context.Context, t tally, ch provider.Channel) (uuid.UUID, bool) {
	fields := []zap.Field{
		zap.String("channel_id", ch.ID),
		zap.String("channel_name", ch.Name),
		zap.String("channel_state", string(ch.State)),
	}
	ref, err := provider.Parse(ch.Name)
	if err != nil {
		t.record(metrics.OutcomeSkipped, ActionUnparsable, fields...)
		return uuid.Nil, false
	}
	if ref.Env != c.cfg.Env {
		t.record(metrics.OutcomeSkipped, ActionOtherEnv, fields...)
		return uuid.Nil, false
	}
	fields = append(fields, zap.String("video_id", ref.ID.String()))

	live, err := c.store.Get(ctx, ref.ID)
	if err != nil && !errors.Is(err, lives.ErrNotFound) {
		t.record(metrics.OutcomeFailed, ActionFailed, append(fields, zap.Error(err))...)
		return ref.ID, true
	}

	if live == nil || live.LiveState.IsTerminal() || (live.Info().ChannelID != "" && live.Info().ChannelID != ch.ID) {
		if err := c.deleteOrphan(ctx, ch); err != nil {
			t.record(metrics.OutcomeFailed, ActionDeleteOrphan, append(fields, zap.Error(err))...)
		} else {
			t.record(metrics.OutcomeDeleted, ActionDeleteOrphan, fields...)
		}
		// A live attached to another channel is still judged on its own later.
		return ref.ID, live != nil && live.LiveState.IsTerminal()
	}

	fields = append(fields, zap.String("live_state", string(live.LiveState)))
	if live.LiveState.IsOnAir() || ch.State == provider.ChannelRunning || !expired(live, c.now(), c.cfg.Retention) {
		t.record(metrics.OutcomeSkipped, ActionKeep, fields...)
		return ref.ID, true
	}
	if err := reclaim(ctx, c.stack, c.reclaimer, c.store, live, ch); err != nil {
		t.record(metrics.OutcomeFailed, ActionReclaim, append(fields, zap.Error(err))...)
		return ref.ID, true
	}
	t.record(metrics.OutcomeDeleted, ActionReclaim, fields...)
	return ref.ID, true
}

// deleteOrphan removes a channel nobody owns, its inputs and the packaging
// channel created under the same name.
func (c *Cleanup) deleteOrphan(ctx context.Context, ch provider.Channel) error {
	if err := c.stack.DeleteStack(ctx, ch.ID, ch.InputIDs...); err != nil {
		return err
	}
	return c.stack.DeletePackaging(ctx, ch.Name)
}

// reclaim tears down whatever the live (or the channel found for it) still
// holds at the provider, empties its storage prefix and marks it deleted.
func reclaim(ctx context.Context, stack Stack, reclaimer *Reclaimer, store lives.Store, live *models.LiveResource, ch provider.Channel) error {
	info := live.Info()
	channelID, inputs := info.ChannelID, []string{}
	if info.InputID != "" {
		inputs = append(inputs, info.InputID)
	}
	if ch.ID != "" {
		channelID = ch.ID
		for _, in := range ch.InputIDs {
			if in != info.InputID {
				inputs = append(inputs, in)
			}
		}
	}
	if err := stack.DeleteStack(ctx, channelID, inputs...); err != nil {
		return err
	}
	packaging := info.PackagingChannelID
	if packaging == "" && ch.Name != "" {
		packaging = ch.Name
	}
	if err := stack.DeletePackaging(ctx, packaging); err != nil {
		return err
	}
	if _, err := reclaimer.PurgePrefix(ctx, provider.ObjectPrefix(live.ID)); err != nil {
		return err
	}
	_, err := store.Update(ctx, live.ID, func(l *models.LiveResource) error {
		if l.LiveState.IsOnAir() {
			return fmt.Errorf("live %s went back on air", l.ID)
		}
		if l.LiveState != models.LiveStateDeleted {
			if err := l.Transition(models.LiveStateDeleted); err != nil {
				return err
			}
		}
		l.UploadState = models.UploadStateDeleted
		l.LiveInfo = nil
		return nil
	})
	return err
}
