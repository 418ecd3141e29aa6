package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/models"
)

// Sweep names, also used as CLI subcommands and metric labels.
const (
	SweepStateSync = "reconcile-live-state"
	SweepCleanup   = "cleanup-orphaned-stacks"
	SweepPurge     = "purge-expired-harvested"
)

// Candidate actions as logged.
const (
	ActionPromote      = "promote"
	ActionDemote       = "demote"
	ActionUnchanged    = "unchanged"
	ActionTransient    = "ignore_transient"
	ActionOtherEnv     = "ignore_environment"
	ActionUnparsable   = "ignore_unparsable"
	ActionUnmatched    = "ignore_unmatched"
	ActionStale        = "ignore_stale_channel"
	ActionResume       = "resume_harvest"
	ActionDeleteOrphan = "delete_orphan"
	ActionReclaim      = "reclaim_expired"
	ActionKeep         = "keep"
	ActionFailed       = "failed"
)

// Report counts what a sweep did with its candidates.
type Report struct {
	Examined int
	Updated  int
	Deleted  int
	Skipped  int
	Failed   int
}

// Stack is the provisioner surface the sweeps drive.
type Stack interface {
	DeleteStack(ctx context.Context, channelID string, inputIDs ...string) error
	DeletePackaging(ctx context.Context, packagingChannelID string) error
}

// Resumer finishes interrupted harvests.
type Resumer interface {
	Resume(ctx context.Context, id uuid.UUID) error
}

// tally records one candidate on the report, the metrics and the log.
// Every examined candidate produces exactly one Info line.
type tally struct {
	sweep   string
	report  *Report
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (t tally) record(outcome, action string, fields ...zap.Field) {
	t.report.Examined++
	switch outcome {
	case metrics.OutcomeUpdated:
		t.report.Updated++
	case metrics.OutcomeDeleted:
		t.report.Deleted++
	case metrics.OutcomeFailed:
		t.report.Failed++
	default:
		t.report.Skipped++
	}
	t.metrics.IncSweepItem(t.sweep, outcome)
	fields = append([]zap.Field{zap.String("sweep", t.sweep), zap.String("action", action)}, fields...)
	if outcome == metrics.OutcomeFailed {
		t.logger.Error("sweep candidate", fields...)
		return
	}
	t.logger.Info("sweep candidate", fields...)
}

// referenceTime is when a live was last known to matter: stopped_at, else
// the scheduled start, else the upload time, else its creation. ok is false
// only for a live that was never stored.
func referenceTime(l *models.LiveResource) (time.Time, bool) {
	if l.LiveInfo != nil && l.LiveInfo.StoppedAt != nil {
		return time.Unix(*l.LiveInfo.StoppedAt, 0), true
	}
	if l.StartingAt != nil {
		return *l.StartingAt, true
	}
	if l.UploadedOn != nil {
		return *l.UploadedOn, true
	}
	if !l.CreatedAt.IsZero() {
		return l.CreatedAt, true
	}
	return time.Time{}, false
}

func expired(l *models.LiveResource, now time.Time, retention time.Duration) bool {
	ref, ok := referenceTime(l)
	return ok && now.Sub(ref) > retention
}
