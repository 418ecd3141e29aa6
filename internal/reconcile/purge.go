package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/provider"
)

// Purge reclaims harvested lives nobody converted within the retention window.
type Purge struct {
	retention time.Duration
	stack     Stack
	store     lives.Store
	reclaimer *Reclaimer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewPurge creates the purge sweep.
func NewPurge(retention time.Duration, stack Stack, store lives.Store, reclaimer *Reclaimer, m *metrics.Metrics, logger *zap.Logger) *Purge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purge{
		retention: retention,
		stack:     stack,
		store:     store,
		reclaimer: reclaimer,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for retention checks.
func (p *Purge) SetClock(now func() time.Time) { p.now = now }

// Run examines every harvested live once.
func (p *Purge) Run(ctx context.Context) (Report, error) {
	var report Report
	t := tally{sweep: SweepPurge, report: &report, metrics: p.metrics, logger: p.logger}

	harvested, err := p.store.ListByStates(ctx, models.LiveStateHarvested)
	if err != nil {
		return report, fmt.Errorf("list harvested lives: %w", err)
	}
	now := p.now()
	for _, live := range harvested {
		fields := []zap.Field{zap.String("video_id", live.ID.String())}
		if !expired(live, now, p.retention) {
			t.record(metrics.OutcomeSkipped, ActionKeep, fields...)
			continue
		}
		if err := reclaim(ctx, p.stack, p.reclaimer, p.store, live, provider.Channel{}); err != nil {
			t.record(metrics.OutcomeFailed, ActionReclaim, append(fields, zap.Error(err))...)
			continue
		}
		t.record(metrics.OutcomeDeleted, ActionReclaim, fields...)
	}
	return report, nil
}
